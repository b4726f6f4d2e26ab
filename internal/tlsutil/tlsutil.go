// Package tlsutil builds the server TLS configuration for the control API,
// optionally generating a self-signed certificate on first use.
package tlsutil

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names used inside Config.Dir.
const (
	CertFile = "tls.crt"
	KeyFile  = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	Hosts        []string `mapstructure:"hosts"` // SANs for generated certificates
	MinVersion   string   `mapstructure:"min_version"`
}

// Paths returns the certificate and key files Setup will read.
func (c Config) Paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, CertFile), filepath.Join(c.Dir, KeyFile)
	}
	return "", ""
}

// Setup returns nil when TLS is disabled. Certificates are re-read on every
// handshake so they can be rotated without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cert, key := c.Paths()
	if cert == "" {
		return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
	}
	if c.AutoGenerate && !exists(cert, key) {
		if err := Generate(SelfSigned{Hosts: c.Hosts, CertPath: cert, KeyPath: key}); err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
	}
	if !exists(cert, key) {
		return nil, fmt.Errorf("certificate %s or key %s not found", cert, key)
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			pair, err := tls.LoadX509KeyPair(cert, key)
			if err != nil {
				return nil, err
			}
			return &pair, nil
		},
	}, nil
}

func parseVersion(v string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(v), "tls") {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported tls min_version %q", v)
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
