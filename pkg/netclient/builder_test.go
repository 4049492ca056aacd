package netclient

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	assert.Equal(t, DefaultConnectTimeout, b.connectTimeout)
	assert.Equal(t, DefaultReadTimeout, b.readTimeout)
	assert.False(t, b.allowPrivate)
}

func TestBuilder_FluentMethodsReturnSameBuilder(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	assert.Same(t, b, b.WithCABundle("/path"))
	assert.Same(t, b, b.WithTokenFromFile("/path"))
	assert.Same(t, b, b.WithPrivateIPs(true))
}

func TestBuilder_BuildBasic(t *testing.T) {
	t.Parallel()
	client, err := NewBuilder().Build()
	require.NoError(t, err)
	require.NotNil(t, client)
	_, ok := client.Transport.(*http.Transport)
	assert.True(t, ok)
}

func TestBuilder_BuildWithTokenFile(t *testing.T) {
	t.Parallel()
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("secret-token"), 0o600))

	client, err := NewBuilder().WithTokenFromFile(tokenFile).Build()
	require.NoError(t, err)
	_, ok := client.Transport.(*bearerTokenTransport)
	assert.True(t, ok)
}

func TestBuilder_InvalidCABundle(t *testing.T) {
	t.Parallel()
	badCA := filepath.Join(t.TempDir(), "bad.crt")
	require.NoError(t, os.WriteFile(badCA, []byte("not a cert"), 0o600))

	_, err := NewBuilder().WithCABundle(badCA).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse CA certificate bundle")
}

func TestHTTPError(t *testing.T) {
	t.Parallel()
	err := NewHTTPError(404, "http://example.com/api", "not found")
	assert.Equal(t, "HTTP 404 for URL http://example.com/api: not found", err.Error())
	assert.True(t, IsHTTPError(err, 404))
	assert.False(t, IsHTTPError(err, 500))
	assert.True(t, IsHTTPError(err, 0))
}

func TestIsPrivateOrLoopback(t *testing.T) {
	t.Parallel()
	assert.True(t, isPrivateOrLoopback(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateOrLoopback(net.ParseIP("10.0.0.5")))
	assert.True(t, isPrivateOrLoopback(net.ParseIP("192.168.1.1")))
	assert.False(t, isPrivateOrLoopback(net.ParseIP("8.8.8.8")))
}
