package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	apimw "github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api/middleware"
)

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated when absent", ""},
		{"echoed when present", "req-42"},
		{"replaced when it contains spaces", "req 42"},
		{"replaced when too long", strings.Repeat("a", 129)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := apimw.CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = apimw.GetCorrelationID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("X-Correlation-ID", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
			if tc.header == "req-42" {
				assert.Equal(t, tc.header, seen)
			} else {
				assert.NotEqual(t, tc.header, seen)
			}
		})
	}
}

func TestCaller(t *testing.T) {
	var got string
	h := apimw.Caller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = apimw.GetCaller(r.Context()).StaffID
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(apimw.StaffIDHeader, "  staff-7 ")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "staff-7", got)
}

func TestRequestLogger_PassesStatusThrough(t *testing.T) {
	h := apimw.RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isHijacker := w.(http.Hijacker)
		assert.True(t, isHijacker, "wrapped writer must support websocket upgrades")
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
