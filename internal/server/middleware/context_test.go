package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIP(t *testing.T) {
	testCases := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:5000", "203.0.113.7"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 198.51.100.4 "}, "", "198.51.100.4"},
		{"real ip", map[string]string{"X-Real-Ip": "198.51.100.9"}, "10.0.0.2:5000", "198.51.100.9"},
		{"remote addr", nil, "192.0.2.1:4321", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
		{"nothing", nil, "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := RequestIP(r); got != tc.want {
				t.Errorf("RequestIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIP_StoresInContext(t *testing.T) {
	var got string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-Ip", "198.51.100.9")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if got != "198.51.100.9" {
		t.Errorf("client ip = %q", got)
	}
}

func TestClientIPFromContext_NotSet(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Errorf("ClientIPFromContext = %q, want empty", got)
	}
}
