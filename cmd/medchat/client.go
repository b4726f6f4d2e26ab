package main

import (
	"os"
	"time"

	"github.com/loykin/medchat/pkg/client"
)

// Environment read by remote commands.
const (
	TokenEnv = "MEDCHAT_API_TOKEN"
	// CAEnv names a PEM file trusted for an https control API, e.g. the
	// generated <state-dir>/tls/tls.crt.
	CAEnv = "MEDCHAT_API_CA"
)

func newRemoteClient(baseURL string, timeout time.Duration) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: baseURL,
		Timeout: timeout,
		Token:   os.Getenv(TokenEnv),
		CACert:  os.Getenv(CAEnv),
	})
}
