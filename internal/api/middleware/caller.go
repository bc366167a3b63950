package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

const callerKey contextKey = "caller"

// StaffIDHeader carries the staff id resolved by the upstream auth proxy.
const StaffIDHeader = "X-Staff-ID"

// Caller stores the already-authenticated staff identity on the request
// context. A missing header yields an anonymous caller, which the queue
// service rejects as forbidden.
func Caller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := domain.Caller{StaffID: strings.TrimSpace(r.Header.Get(StaffIDHeader))}
		ctx := context.WithValue(r.Context(), callerKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller returns the caller stored by the middleware.
func GetCaller(ctx context.Context) domain.Caller {
	c, _ := ctx.Value(callerKey).(domain.Caller)
	return c
}
