package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveThrough(t *testing.T, cfg Config, remoteAddr string, headers map[string]string) string {
	t.Helper()

	var got string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClientIP(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestResolveClientIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8", "172.16.0.0/12"}

	tests := []struct {
		name       string
		cfg        Config
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "proxy trust disabled ignores forwarded header",
			cfg:        Config{TrustProxy: false, TrustedProxies: trusted},
			remoteAddr: "192.168.1.100:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			want:       "192.168.1.100",
		},
		{
			name:       "trusted peer yields forwarded client",
			cfg:        Config{TrustProxy: true, TrustedProxies: trusted},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.5"},
			want:       "203.0.113.50",
		},
		{
			name:       "untrusted peer cannot assert a client",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "192.168.1.100:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			want:       "192.168.1.100",
		},
		{
			name:       "x-real-ip fallback when no forwarded chain",
			cfg:        Config{TrustProxy: true, TrustedProxies: trusted},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": "203.0.113.50"},
			want:       "203.0.113.50",
		},
		{
			name:       "multi-hop chain stops at first untrusted hop",
			cfg:        Config{TrustProxy: true, TrustedProxies: trusted},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 172.16.0.1, 10.0.0.2"},
			want:       "203.0.113.50",
		},
		{
			name:       "fully trusted chain yields leftmost hop",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1, 172.16.0.1, 10.0.0.2"},
			want:       "192.168.1.1",
		},
		{
			name:       "no forwarding headers falls back to peer",
			cfg:        Config{TrustProxy: true, TrustedProxies: trusted},
			remoteAddr: "10.0.0.1:12345",
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveThrough(t, tt.cfg, tt.remoteAddr, tt.headers))
		})
	}
}

func TestGetClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	assert.Equal(t, "192.168.1.100", GetClientIP(req))
}

func TestStripPort(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.1.100:12345", "192.168.1.100"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"192.168.1.100", "192.168.1.100"},
		{"[::1]:8080", "::1"},
		{"::1", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, stripPort(tt.addr))
		})
	}
}

func TestIsTrusted(t *testing.T) {
	trusted := parsePrefixes([]string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.1"})
	require.Len(t, trusted, 3)

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"192.168.0.2", false},
		{"203.0.113.50", false},
		{"invalid", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, isTrusted(tt.ip, trusted))
		})
	}
}

func TestParsePrefixesSkipsGarbage(t *testing.T) {
	prefixes := parsePrefixes([]string{"10.0.0.0/8", "not-a-network", "2001:db8::1"})
	assert.Len(t, prefixes, 2)
}
