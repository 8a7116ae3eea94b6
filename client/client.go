package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bosley/voechoal/audio"
	"github.com/gorilla/websocket"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	// Base URL of the server, e.g. https://localhost:8444
	ServerURL string

	// Token sent as a bearer token when set
	Token string

	// Skip certificate verification
	Insecure bool

	// Server certificate to trust
	CertFile string
}

// Client talks to a voechoal server.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url scheme: %q", base.Scheme)
	}

	tlsConfig, err := createTLSConfig(cfg.Insecure, cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return &Client{
		base:  base,
		token: cfg.Token,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: defaultTimeout,
		},
	}, nil
}

func createTLSConfig(insecureMode bool, serverCertFile string) (*tls.Config, error) {
	if insecureMode {
		slog.Warn("Running in insecure mode. This should not be used in production!")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if serverCertFile == "" {
		return &tls.Config{}, nil
	}

	certPEM, err := os.ReadFile(serverCertFile)
	if err != nil {
		return nil, err
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("failed to append server certificate")
	}

	return &tls.Config{
		RootCAs: certPool,
	}, nil
}

// Poll fetches and validates the current polling state.
func (c *Client) Poll(ctx context.Context) (audio.PollingState, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/poll")
	if err != nil {
		return audio.PollingState{}, err
	}
	return decodeState(body)
}

// decodeState tolerates a broken playback exclusivity the same way the server does.
func decodeState(data []byte) (audio.PollingState, error) {
	state, err := audio.DecodePollingState(data)
	if errors.Is(err, audio.ErrMultiplePlayingItems) {
		slog.Warn("Polling state violates playback exclusivity", "error", err)
		return state, nil
	}
	return state, err
}

func (c *Client) StartRecording(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/record/start")
	return err
}

func (c *Client) PauseRecording(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/record/pause")
	return err
}

func (c *Client) Play(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/player/"+url.PathEscape(id)+"/start")
	return err
}

func (c *Client) Pause(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/player/"+url.PathEscape(id)+"/pause")
	return err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/items/"+url.PathEscape(id))
	return err
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	return body, nil
}

// Subscribe calls fn with every polling state the server pushes until ctx is
// cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, fn func(audio.PollingState)) error {
	wsURL := *c.base
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/ws"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscription ended: %w", err)
		}

		state, err := decodeState(data)
		if err != nil {
			slog.Warn("Ignoring invalid polling state", "error", err)
			continue
		}
		fn(state)
	}
}
