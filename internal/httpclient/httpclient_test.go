package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutProxy(t *testing.T) {
	t.Parallel()

	c, err := New("", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.Nil(t, c.Transport.(*http.Transport).Proxy)
}

func TestNewWithProxy(t *testing.T) {
	t.Parallel()

	c, err := New("http://proxy.internal:8080", 0)
	require.NoError(t, err)
	tr := c.Transport.(*http.Transport)
	require.NotNil(t, tr.Proxy)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v1", nil)
	require.NoError(t, err)
	u, err := tr.Proxy(req)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "proxy.internal:8080", u.Host)
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	_, err := New("http://bad host:%%", 0)
	assert.Error(t, err)
}

func TestNewBareHostPortProxy(t *testing.T) {
	t.Parallel()

	c, err := New("10.0.0.1:3128", 0)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, "https://api.xdr.trendmicro.com/v3.0", nil)
	require.NoError(t, err)
	u, err := c.Transport.(*http.Transport).Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "10.0.0.1:3128", u.Host)
}
