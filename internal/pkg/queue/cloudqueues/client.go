package cloudqueues

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudqueues-driver/internal/pkg/logger"
	"cloudqueues-driver/internal/pkg/queue"
)

const (
	DefaultIdentityURL = "https://identity.api.rackspacecloud.com/v2.0/"
	DefaultServiceName = "cloudQueues"
	DefaultURLType     = "publicURL"

	userAgent = "cloudqueues-driver/1.0"
)

// Config holds the connection settings for a Cloud Queues endpoint.
type Config struct {
	IdentityURL string // Keystone v2 identity endpoint
	Username    string
	APIKey      string // Rackspace API key (RAX-KSKEY)
	Password    string // used when APIKey is empty
	TenantName  string
	ServiceName string // service catalog name, e.g. cloudQueues
	Region      string
	URLType     string // publicURL or internalURL

	Endpoint string // skips the catalog lookup when set
	Token    string // skips authentication when set together with Endpoint

	ClientID   string        // Client-ID header, generated when empty
	Timeout    time.Duration // HTTP client timeout
	ClaimGrace time.Duration // grace period added to claimed messages
}

// Client talks to the Cloud Queues v1 REST API. It implements queue.Service.
type Client struct {
	HTTPClient *http.Client
	Config     *Config

	clientID string

	mu       sync.Mutex
	endpoint *url.URL
	token    string
}

var _ queue.Service = (*Client)(nil)

// NewClient resolves the endpoint and token, authenticating against the
// identity service unless both were given statically.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.URLType == "" {
		cfg.URLType = DefaultURLType
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Config:     cfg,
		clientID:   cfg.ClientID,
	}
	if c.clientID == "" {
		c.clientID = uuid.NewString()
	}

	if cfg.Endpoint != "" {
		if err := c.setEndpoint(cfg.Endpoint); err != nil {
			return nil, err
		}
	}
	if cfg.Endpoint != "" && cfg.Token != "" {
		c.token = cfg.Token
		return c, nil
	}
	if cfg.Username == "" {
		return nil, errors.New("cloudqueues: username is required when no static endpoint and token are configured")
	}
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ClientID returns the Client-ID sent with every request.
func (c *Client) ClientID() string {
	return c.clientID
}

// Info implements queue.Service.
func (c *Client) Info() queue.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	var endpoint string
	if c.endpoint != nil {
		endpoint = c.endpoint.String()
	}
	return queue.Info{
		ClientID: c.clientID,
		Name:     c.Config.ServiceName,
		URL:      endpoint,
		Region:   c.Config.Region,
		URLType:  c.Config.URLType,
	}
}

func (c *Client) setEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return fmt.Errorf("cloudqueues: invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("cloudqueues: endpoint %q must be an absolute URL", raw)
	}
	c.mu.Lock()
	c.endpoint = u
	c.mu.Unlock()
	return nil
}

// resolve turns a resource path into a full URL. Paths starting with "/" are
// hrefs returned by the service and are resolved against the endpoint host.
func (c *Client) resolve(ref string) (string, error) {
	c.mu.Lock()
	base := c.endpoint
	c.mu.Unlock()
	if base == nil {
		return "", errors.New("cloudqueues: no endpoint resolved")
	}
	if strings.HasPrefix(ref, "/") {
		r, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("cloudqueues: invalid href %q: %w", ref, err)
		}
		return base.ResolveReference(r).String(), nil
	}
	return base.String() + "/" + ref, nil
}

func (c *Client) canReauthenticate() bool {
	return c.Config.Username != "" && (c.Config.APIKey != "" || c.Config.Password != "")
}

// do sends one request and decodes a JSON response into out. It returns the
// status code so callers can tell 204 No Content apart from an empty body.
func (c *Client) do(ctx context.Context, method, ref string, in, out any) (int, error) {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("cloudqueues: marshal request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, ref, payload)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.canReauthenticate() {
		resp.Body.Close()
		logger.WarnCtx(ctx, "Cloud Queues token rejected, re-authenticating")
		if err := c.authenticate(ctx); err != nil {
			return 0, err
		}
		resp, err = c.send(ctx, method, ref, payload)
		if err != nil {
			return 0, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &ResponseError{
			Method:     method,
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("cloudqueues: decode %s %s: %w", method, resp.Request.URL.Path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) send(ctx context.Context, method, ref string, payload []byte) (*http.Response, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Client-ID", c.clientID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	return c.HTTPClient.Do(req)
}
