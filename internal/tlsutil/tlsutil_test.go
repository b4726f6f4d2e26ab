package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupNeedsCertificates(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.Error(t, err)

	_, err = Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.ErrorContains(t, err, "not found")
}

func TestAutoGenerateAndServe(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	srv.TLS = cfg
	srv.StartTLS()
	defer srv.Close()

	pemBytes, err := os.ReadFile(filepath.Join(dir, CertFile))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pemBytes))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateSANs(t *testing.T) {
	dir := t.TempDir()
	s := SelfSigned{Hosts: []string{"chat.example.org", "10.1.2.3"}, CertPath: filepath.Join(dir, "c.pem"), KeyPath: filepath.Join(dir, "k.pem")}
	require.NoError(t, Generate(s))

	b, err := os.ReadFile(s.CertPath)
	require.NoError(t, err)
	block, _ := pem.Decode(b)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat.example.org"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "10.1.2.3", cert.IPAddresses[0].String())
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("TLS1.2")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), v)
	_, err = parseVersion("1.0")
	assert.Error(t, err)
}
