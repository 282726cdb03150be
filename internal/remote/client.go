package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"contentsync/internal/common"
	"contentsync/internal/logging"
)

// BasePath is the peer API prefix every endpoint hangs off.
const BasePath = "/content-sync/v1"

// Default call timeouts. Control calls are short; content transfers may
// legitimately run long.
const (
	DefaultControlTimeout  = 30 * time.Second
	MaxTransferTimeout     = time.Hour
	DefaultTransferTimeout = 10 * time.Minute
)

// Sender issues calls against a peer and returns the envelope payload.
// The Distributor and Connection Map depend on this interface, not on the
// concrete client.
type Sender interface {
	Send(ctx context.Context, conn *Connection, path string, body any, method string) (json.RawMessage, error)

	// SendTransfer is Send with the long transfer timeout, for content
	// payloads.
	SendTransfer(ctx context.Context, conn *Connection, path string, body any, method string) (json.RawMessage, error)
}

// Client is the HTTP implementation of Sender. One client serves all
// peers; per-call state lives in the Connection.
type Client struct {
	log logging.Logger
	// origin is this installation's canonical network address; it is
	// presented on every call so the callee can verify a bidirectional
	// connection.
	origin string
	// scheme is https outside tests.
	scheme          string
	control         *http.Client
	transfer        *http.Client
	controlTimeout  time.Duration
	transferTimeout time.Duration
}

// Option tweaks client construction.
type Option func(*Client)

// WithScheme overrides the URL scheme. Tests use "http" against httptest
// servers.
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// WithTransferTimeout raises the transfer timeout, capped at
// MaxTransferTimeout.
func WithTransferTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > MaxTransferTimeout {
			d = MaxTransferTimeout
		}
		c.transferTimeout = d
	}
}

// NewClient builds a client that identifies as origin on the wire.
func NewClient(log logging.Logger, origin string, opts ...Option) *Client {
	c := &Client{
		log:             log,
		origin:          origin,
		scheme:          "https",
		controlTimeout:  DefaultControlTimeout,
		transferTimeout: DefaultTransferTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	c.control = &http.Client{Timeout: c.controlTimeout}
	c.transfer = &http.Client{Timeout: c.transferTimeout}
	return c
}

func (c *Client) Send(ctx context.Context, conn *Connection, path string, body any, method string) (json.RawMessage, error) {
	return c.do(ctx, c.control, conn, path, body, method)
}

func (c *Client) SendTransfer(ctx context.Context, conn *Connection, path string, body any, method string) (json.RawMessage, error) {
	return c.do(ctx, c.transfer, conn, path, body, method)
}

func (c *Client) do(ctx context.Context, hc *http.Client, conn *Connection, path string, body any, method string) (json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	url := c.scheme + "://" + conn.Address + BasePath + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.OriginHeader, c.origin)
	req.SetBasicAuth(conn.Login, conn.Secret)

	resp, err := hc.Do(req)
	if err != nil {
		c.log.Warn(ctx, "peer call failed", "peer", conn.Address, "path", path, "err", err)
		return nil, fmt.Errorf("%w: %s: %v", common.ErrUnreachable, conn.Address, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope from %s: %w", conn.Address, err)
	}

	// the envelope's inner status is authoritative, not the HTTP code
	if !env.OK() {
		switch env.Data.Status {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: %s", common.ErrUnauthorized, env.Message)
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", common.ErrNotConnected, env.Message)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, env.Message)
		}
		return nil, fmt.Errorf("peer %s: %s", conn.Address, env.Message)
	}
	return env.Data.ResponseData, nil
}
