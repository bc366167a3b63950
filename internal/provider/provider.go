package provider

import (
	"context"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// SendRequest is the JSON body posted to the SMS gateway.
type SendRequest struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Reference string `json:"reference"`
}

// SendResponse maps the gateway's acceptance body.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Gateway delivers one rendered message. Implementations must honour ctx
// cancellation; callers do not retry.
type Gateway interface {
	Send(ctx context.Context, m domain.Message) (*SendResponse, error)
}
