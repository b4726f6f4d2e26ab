// Package client talks to the control API served by `medchat serve`.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/medchat/internal/logstore"
	"github.com/loykin/medchat/internal/server"
	"github.com/loykin/medchat/internal/supervisor"
)

const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL string // e.g. https://host:8600/api
	Timeout time.Duration
	Token   string // bearer token of an admin user
	CACert  string // PEM file of the server CA; empty uses the system pool
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
	}, nil
}

// APIError is a non-2xx reply.
type APIError struct {
	Status int
	server.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code(), e.Message)
}

// Code is the machine-readable error code, e.g. "in_progress".
func (e *APIError) Code() string { return e.ErrorResponse.Error }

// Busy reports whether the server refused because another operation holds the lock.
func (e *APIError) Busy() bool { return e.Code() == "in_progress" }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		ae := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&ae.ErrorResponse); err != nil || ae.Code() == "" {
			ae.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
		return ae
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Status(ctx context.Context) (supervisor.Status, error) {
	var st supervisor.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Start asks the server to launch the UI; restart stops a running one first.
func (c *Client) Start(ctx context.Context, req server.StartRequest, restart bool) (server.ResultResponse, error) {
	path := "/start"
	if restart {
		path = "/restart"
	}
	var res server.ResultResponse
	err := c.do(ctx, http.MethodPost, path, req, &res)
	return res, err
}

func (c *Client) Stop(ctx context.Context) (server.ResultResponse, error) {
	var res server.ResultResponse
	err := c.do(ctx, http.MethodPost, "/stop", nil, &res)
	return res, err
}

func (c *Client) Logs(ctx context.Context, stream logstore.Stream, n int) (supervisor.Tail, error) {
	q := url.Values{}
	q.Set("type", string(stream))
	q.Set("lines", strconv.Itoa(n))
	var tail supervisor.Tail
	err := c.do(ctx, http.MethodGet, "/logs?"+q.Encode(), nil, &tail)
	return tail, err
}
