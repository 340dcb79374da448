package server

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPFromRequest(t *testing.T) {
	trusted := newProxyMatcher([]string{"10.0.0.0/8", "192.168.1.1", "not-an-ip"}, testLogger())

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct", "203.0.113.5:1234", nil, "203.0.113.5"},
		{"untrusted proxy ignored", "203.0.113.5:1234", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.5"},
		{"trusted xff", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.9"}, "1.2.3.4"},
		{"trusted forwarded", "192.168.1.1:80", map[string]string{"Forwarded": `for="[2001:db8::1]:443";proto=https`}, "2001:db8::1"},
		{"trusted no header", "10.1.2.3:80", nil, "10.1.2.3"},
		{"all trusted", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "10.9.9.9"}, "10.9.9.9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://apid/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			got := clientIPFromRequest(req, trusted)
			if got == nil || got.String() != tc.want {
				t.Errorf("clientIPFromRequest = %v, want %s", got, tc.want)
			}
		})
	}
}

func TestNewProxyMatcherEmpty(t *testing.T) {
	if m := newProxyMatcher([]string{"", "bogus"}, testLogger()); m != nil {
		t.Errorf("newProxyMatcher = %+v, want nil", m)
	}
}
