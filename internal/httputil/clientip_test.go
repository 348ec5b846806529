package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expectedIP string
	}{
		{
			name:       "loopback peer with X-Forwarded-For takes first",
			remoteAddr: "127.0.0.1:50000",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.7 , 203.0.113.9"},
			expectedIP: "198.51.100.7",
		},
		{
			name:       "loopback peer with X-Real-IP",
			remoteAddr: "127.0.0.1:50000",
			headers:    map[string]string{"X-Real-IP": "203.0.113.12"},
			expectedIP: "203.0.113.12",
		},
		{
			name:       "IPv6 loopback peer with IPv6 forwarded address",
			remoteAddr: "[::1]:50000",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1"},
			expectedIP: "2001:db8::1",
		},
		{
			name:       "remote peer headers ignored",
			remoteAddr: "192.0.2.10:443",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "10.0.0.2"},
			expectedIP: "192.0.2.10",
		},
		{
			name:       "loopback without headers",
			remoteAddr: "127.0.0.1:8080",
			expectedIP: "127.0.0.1",
		},
		{
			name:       "address without port",
			remoteAddr: "192.0.2.55",
			expectedIP: "192.0.2.55",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/view", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(r))
		})
	}
}

func TestIsLocalRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/view", nil)

	r.RemoteAddr = "127.0.0.1:1234"
	assert.True(t, IsLocalRequest(r))

	r.RemoteAddr = "[::1]:1234"
	assert.True(t, IsLocalRequest(r))

	r.RemoteAddr = "192.0.2.1:1234"
	assert.False(t, IsLocalRequest(r))
}
