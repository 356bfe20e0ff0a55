package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/stingray/zookeeper/internal/config"
)

// Client implements the Nginx Proxy Manager API for proxy hosts.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a proxy manager API client.
func NewClient(cfg config.ProxyConfig, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy manager URL: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid proxy manager URL %q: missing host", cfg.BaseURL)
	}
	if !strings.HasSuffix(strings.TrimRight(parsed.Path, "/"), "/api") {
		parsed.Path = path.Join("/", parsed.Path, "api")
	}

	return &Client{
		baseURL:   parsed,
		token:     cfg.Token,
		userAgent: "zookeeper",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logger,
	}, nil
}

// ListProxyHosts returns every proxy host visible to the token.
func (client *Client) ListProxyHosts(ctx context.Context) ([]ProxyHost, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.proxyHostsBase().String(), nil)
	if err != nil {
		return nil, err
	}
	client.addHeaders(request)

	var hosts []ProxyHost
	if err := client.do(request, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// GetProxyHost returns a single proxy host including its locations.
func (client *Client) GetProxyHost(ctx context.Context, id int) (ProxyHost, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.proxyHostURL(id).String(), nil)
	if err != nil {
		return ProxyHost{}, err
	}
	client.addHeaders(request)

	var host ProxyHost
	if err := client.do(request, &host); err != nil {
		return ProxyHost{}, err
	}
	return host, nil
}

// UpdateLocations replaces the location list of a proxy host and returns the
// stored result. Other proxy host settings are left as they are.
func (client *Client) UpdateLocations(ctx context.Context, id int, locations []Location) (ProxyHost, error) {
	if locations == nil {
		locations = []Location{}
	}
	body, err := json.Marshal(locationsPayload{Locations: locations})
	if err != nil {
		return ProxyHost{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, client.proxyHostURL(id).String(), bytes.NewBuffer(body))
	if err != nil {
		return ProxyHost{}, err
	}
	client.addHeaders(request)
	request.Header.Set("Content-Type", "application/json")

	var host ProxyHost
	if err := client.do(request, &host); err != nil {
		return ProxyHost{}, err
	}
	return host, nil
}

func (client *Client) addHeaders(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", client.userAgent)
}

func (client *Client) proxyHostsBase() *url.URL {
	base := *client.baseURL
	base.Path = path.Join(base.Path, "nginx", "proxy-hosts")
	return &base
}

func (client *Client) proxyHostURL(id int) *url.URL {
	endpoint := client.proxyHostsBase()
	endpoint.Path = path.Join(endpoint.Path, strconv.Itoa(id))
	return endpoint
}

type locationsPayload struct {
	Locations []Location `json:"locations"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (client *Client) do(request *http.Request, response any) error {
	client.log.Debug("proxy manager request", "method", request.Method, "url", request.URL.String())

	resp, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		summary := ""
		var payload errorResponse
		if err := json.Unmarshal(body, &payload); err == nil {
			summary = strings.TrimSpace(payload.Error.Message)
		}
		if summary == "" {
			summary = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("proxy manager request failed with status %s: %s", resp.Status, summary)
	}

	if len(body) == 0 {
		return fmt.Errorf("proxy manager returned empty response with status %s", resp.Status)
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("proxy manager returned non-JSON response with status %s: %w", resp.Status, err)
	}
	return nil
}
