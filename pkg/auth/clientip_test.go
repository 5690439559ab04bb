package auth

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestNewProxyTrust(t *testing.T) {
	p, err := NewProxyTrust([]string{"10.0.0.0/8", " 192.0.2.1 ", "", "::1"})
	require.NoError(t, err)

	assert.True(t, p.Trusts(net.ParseIP("10.20.30.40")))
	assert.True(t, p.Trusts(net.ParseIP("192.0.2.1")))
	assert.True(t, p.Trusts(net.ParseIP("::1")))
	assert.False(t, p.Trusts(net.ParseIP("192.0.2.2")))
	assert.False(t, p.Trusts(nil))

	_, err = NewProxyTrust([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = NewProxyTrust([]string{"10.0.0.0/99"})
	assert.Error(t, err)

	var none *ProxyTrust
	assert.False(t, none.Trusts(net.ParseIP("10.0.0.1")))
}

func TestProxyTrust_Resolve(t *testing.T) {
	p, err := NewProxyTrust([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "untrusted peer cannot forge forwarded-for",
			remote:  "203.0.113.9:4000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:    "203.0.113.9",
		},
		{
			name:    "untrusted peer cannot forge real-ip",
			remote:  "203.0.113.9:4000",
			headers: map[string]string{"X-Real-IP": "198.51.100.1"},
			want:    "203.0.113.9",
		},
		{
			name:    "trusted proxy forwards client",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:    "198.51.100.1",
		},
		{
			name:    "client-supplied hops left of the proxy are ignored",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 198.51.100.1, 10.0.0.7"},
			want:    "198.51.100.1",
		},
		{
			name:    "chain of only trusted hops yields the leftmost",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Forwarded-For": "10.1.1.1, 10.0.0.7"},
			want:    "10.1.1.1",
		},
		{
			name:    "garbage hop falls back to peer",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Forwarded-For": strings.Repeat("x", 200)},
			want:    "10.0.0.5",
		},
		{
			name:    "trusted proxy real-ip",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Real-IP": "2001:db8::1"},
			want:    "2001:db8::1",
		},
		{
			name:    "invalid real-ip falls back to peer",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Real-IP": "nope"},
			want:    "10.0.0.5",
		},
		{
			name:   "remote address without port",
			remote: "192.0.2.10",
			want:   "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Resolve(request(tt.remote, tt.headers)))
		})
	}
}

func TestProxyTrust_Middleware(t *testing.T) {
	p, err := NewProxyTrust([]string{"10.0.0.1"})
	require.NoError(t, err)

	var seen ClientInfo
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientInfoFromRequest(r)
	}))

	r := request("10.0.0.1:5555", map[string]string{"X-Forwarded-For": "198.51.100.23", "User-Agent": "curl/8.0"})
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "198.51.100.23", seen.IPAddress)
	assert.Equal(t, "curl/8.0", seen.UserAgent)

	t.Run("without middleware only the peer counts", func(t *testing.T) {
		r := request("192.0.2.10:52314", map[string]string{"X-Forwarded-For": "198.51.100.23"})
		assert.Equal(t, "192.0.2.10", ClientIP(r))
	})
}
