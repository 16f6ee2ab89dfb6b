package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		wantCount int
	}{
		{"empty list", []string{}, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR range", []string{"10.0.0.0/8"}, 1},
		{"IPv6", []string{"::1", "fd00::/8"}, 2},
		{"with whitespace", []string{"  192.168.1.1  ", " 10.0.0.0/8 "}, 2},
		{"invalid entries ignored", []string{"192.168.1.1", "invalid", "10.0.0.0/33"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowed, newTestLogger())
			assert.Equal(t, tt.wantCount, f.Count())
			assert.Equal(t, tt.wantCount > 0, f.Enabled())
		})
	}
}

func TestAllowed(t *testing.T) {
	f := New([]string{"192.168.1.1", "10.0.0.0/8"}, newTestLogger())

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.1", true},
		{"192.168.1.2", false},
		{"10.20.30.40", true},
		{"::ffff:10.0.0.1", true},
		{"11.0.0.1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Allowed(netip.MustParseAddr(tt.ip)), tt.ip)
	}

	assert.True(t, New(nil, newTestLogger()).Allowed(netip.MustParseAddr("8.8.8.8")), "empty filter should allow all")
}

func TestMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		opts       []Option
		remoteAddr string
		xff        string
		wantStatus int
	}{
		{"allowed remote", nil, "127.0.0.1:5555", "", http.StatusOK},
		{"denied remote", nil, "203.0.113.9:5555", "", http.StatusForbidden},
		{"spoofed header ignored", nil, "203.0.113.9:5555", "127.0.0.1", http.StatusForbidden},
		{"trusted header", []Option{TrustForwardedHeaders()}, "203.0.113.9:5555", "127.0.0.1, 203.0.113.9", http.StatusOK},
		{"unparseable remote", nil, "garbage", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New([]string{"127.0.0.1"}, newTestLogger(), tt.opts...)
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			f.Middleware(handler).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
