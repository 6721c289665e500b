package cloudqueues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloudqueues-driver/internal/pkg/logger"
)

type apiKeyCredentials struct {
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
}

type passwordCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authRequest struct {
	Auth struct {
		APIKey     *apiKeyCredentials   `json:"RAX-KSKEY:apiKeyCredentials,omitempty"`
		Password   *passwordCredentials `json:"passwordCredentials,omitempty"`
		TenantName string               `json:"tenantName,omitempty"`
	} `json:"auth"`
}

type catalogEntry struct {
	Name      string           `json:"name"`
	Type      string           `json:"type"`
	Endpoints []map[string]any `json:"endpoints"`
}

type authResponse struct {
	Access struct {
		Token struct {
			ID      string `json:"id"`
			Expires string `json:"expires"`
		} `json:"token"`
		ServiceCatalog []catalogEntry `json:"serviceCatalog"`
	} `json:"access"`
}

// authenticate obtains a token from the identity service and, unless an
// endpoint was configured, picks the queue endpoint out of the catalog.
func (c *Client) authenticate(ctx context.Context) error {
	var body authRequest
	if c.Config.APIKey != "" {
		body.Auth.APIKey = &apiKeyCredentials{Username: c.Config.Username, APIKey: c.Config.APIKey}
	} else {
		body.Auth.Password = &passwordCredentials{Username: c.Config.Username, Password: c.Config.Password}
	}
	body.Auth.TenantName = c.Config.TenantName

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cloudqueues: marshal auth request: %w", err)
	}

	target := strings.TrimRight(c.Config.IdentityURL, "/") + "/tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudqueues: authenticate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ResponseError{
			Method:     http.MethodPost,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("cloudqueues: decode auth response: %w", err)
	}
	if out.Access.Token.ID == "" {
		return fmt.Errorf("cloudqueues: identity response carried no token")
	}

	if c.Config.Endpoint == "" {
		endpoint, err := findEndpoint(out.Access.ServiceCatalog, c.Config.ServiceName, c.Config.Region, c.Config.URLType)
		if err != nil {
			return err
		}
		if err := c.setEndpoint(endpoint); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.token = out.Access.Token.ID
	c.mu.Unlock()

	logger.InfoCtx(ctx, "Authenticated with Cloud Queues, service: %s, region: %s, token expires: %s",
		c.Config.ServiceName, c.Config.Region, out.Access.Token.Expires)
	return nil
}

// findEndpoint returns the URL of the given type for service in region. An
// empty region matches when the service has exactly one endpoint.
func findEndpoint(catalog []catalogEntry, service, region, urlType string) (string, error) {
	for _, entry := range catalog {
		if entry.Name != service {
			continue
		}
		if region == "" && len(entry.Endpoints) == 1 {
			if u, ok := entry.Endpoints[0][urlType].(string); ok && u != "" {
				return u, nil
			}
		}
		for _, ep := range entry.Endpoints {
			r, _ := ep["region"].(string)
			if !strings.EqualFold(r, region) {
				continue
			}
			if u, ok := ep[urlType].(string); ok && u != "" {
				return u, nil
			}
			return "", fmt.Errorf("cloudqueues: service %s in region %s has no %s", service, region, urlType)
		}
		return "", fmt.Errorf("cloudqueues: service %s has no endpoint in region %q", service, region)
	}
	return "", fmt.Errorf("cloudqueues: service %s not found in catalog", service)
}
