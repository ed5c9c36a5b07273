package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kent0008/breakers-nurik/errors"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	file string
}

func newTestCA(t *testing.T, dir string) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "drillstream test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	file := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(file, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	return &testCA{cert: cert, key: key, file: file}
}

// issue writes a leaf certificate signed by the CA and returns its cert and key paths.
func (ca *testCA) issue(t *testing.T, dir, cn string, usage x509.ExtKeyUsage) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile := filepath.Join(dir, cn+".pem")
	keyFile := filepath.Join(dir, cn+"-key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"disabled ignores fields", ServerConfig{MinVersion: "0.9"}, false},
		{"valid", ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"}, false},
		{"missing key", ServerConfig{Enabled: true, CertFile: "c"}, true},
		{"bad version", ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}, true},
		{"require without CAs", ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", RequireClientCert: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClientConfig_Validate(t *testing.T) {
	assert.NoError(t, ClientConfig{}.Validate())
	assert.NoError(t, ClientConfig{Enabled: true}.Validate())
	assert.NoError(t, ClientConfig{Enabled: true, CertFile: "c", KeyFile: "k"}.Validate())
	assert.Error(t, ClientConfig{Enabled: true, CertFile: "c"}.Validate())
	assert.Error(t, ClientConfig{Enabled: true, MinVersion: "2.0"}.Validate())
}

func TestParseTLSVersion(t *testing.T) {
	v, err := parseTLSVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), v)

	v, err = parseTLSVersion("1.3")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), v)

	_, err = parseTLSVersion("1.0")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t, dir)
	certFile, keyFile := ca.issue(t, dir, "live", x509.ExtKeyUsageServerAuth)

	t.Run("disabled", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("certificate only", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	})

	t.Run("client auth", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{
			Enabled:           true,
			CertFile:          certFile,
			KeyFile:           keyFile,
			ClientCAFiles:     []string{ca.file},
			RequireClientCert: true,
		})
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.NotNil(t, cfg.ClientCAs)
		assert.Nil(t, cfg.VerifyPeerCertificate)
	})

	t.Run("optional client cert", func(t *testing.T) {
		cfg, err := LoadServerConfig(ServerConfig{
			Enabled:       true,
			CertFile:      certFile,
			KeyFile:       keyFile,
			ClientCAFiles: []string{ca.file},
		})
		require.NoError(t, err)
		assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	})

	t.Run("missing certificate", func(t *testing.T) {
		_, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: filepath.Join(dir, "nope.pem"), KeyFile: keyFile})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("bad client CA", func(t *testing.T) {
		junk := filepath.Join(dir, "junk.pem")
		require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o644))

		_, err := LoadServerConfig(ServerConfig{
			Enabled:       true,
			CertFile:      certFile,
			KeyFile:       keyFile,
			ClientCAFiles: []string{junk},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid PEM data")
	})
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t, dir)
	certFile, keyFile := ca.issue(t, dir, "rig-7", x509.ExtKeyUsageClientAuth)

	cfg, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = LoadClientConfig(ClientConfig{
		Enabled:    true,
		CAFiles:    []string{ca.file},
		ServerName: "broker.rig",
		CertFile:   certFile,
		KeyFile:    keyFile,
	})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, "broker.rig", cfg.ServerName)
	assert.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{filepath.Join(dir, "missing.pem")}})
	assert.Error(t, err)
}

func TestMutualTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t, dir)
	serverCert, serverKey := ca.issue(t, dir, "live", x509.ExtKeyUsageServerAuth)
	allowedCert, allowedKey := ca.issue(t, dir, "console", x509.ExtKeyUsageClientAuth)
	deniedCert, deniedKey := ca.issue(t, dir, "intruder", x509.ExtKeyUsageClientAuth)

	serverTLS, err := LoadServerConfig(ServerConfig{
		Enabled:           true,
		CertFile:          serverCert,
		KeyFile:           serverKey,
		ClientCAFiles:     []string{ca.file},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"console"},
	})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	get := func(certFile, keyFile string) error {
		clientTLS, err := LoadClientConfig(ClientConfig{
			Enabled:  true,
			CAFiles:  []string{ca.file},
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)

		client := &http.Client{
			Transport: &http.Transport{TLSClientConfig: clientTLS},
			Timeout:   5 * time.Second,
		}
		resp, err := client.Get(srv.URL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		return nil
	}

	assert.NoError(t, get(allowedCert, allowedKey))
	assert.Error(t, get(deniedCert, deniedKey), "CN outside the allow list must be rejected")
	assert.Error(t, get("", ""), "missing client certificate must be rejected")
}
