package npm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stingray/zookeeper/internal/config"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := NewClient(config.ProxyConfig{BaseURL: server.URL, Token: "secret"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

const proxyHostJSON = `{
	"id": 4,
	"domain_names": ["proxy.example.com"],
	"forward_scheme": "http",
	"forward_host": "127.0.0.1",
	"forward_port": 8080,
	"certificate_id": 0,
	"locations": [
		{"path": "/existing", "forward_scheme": "http", "forward_host": "10.0.0.2", "forward_port": 25565, "advanced_config": "", "location_type": "="}
	]
}`

func TestGetProxyHost(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/nginx/proxy-hosts/4" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_, _ = io.WriteString(w, proxyHostJSON)
	})

	host, err := client.GetProxyHost(context.Background(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host.ID != 4 || len(host.DomainNames) != 1 || host.DomainNames[0] != "proxy.example.com" {
		t.Fatalf("unexpected proxy host: %+v", host)
	}
	if host.CertificateID != NoCertificate || host.CertificateID.Attached() {
		t.Fatalf("expected no certificate, got %q", host.CertificateID)
	}
	if len(host.Locations) != 1 || host.Locations[0].Path != "/existing" || host.Locations[0].ForwardPort != 25565 {
		t.Fatalf("unexpected locations: %+v", host.Locations)
	}
}

func TestUpdateLocationsPreservesUnknownFields(t *testing.T) {
	var received map[string][]map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, proxyHostJSON)
			return
		}
		if r.Method != http.MethodPut || r.URL.Path != "/api/nginx/proxy-hosts/4" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, strings.Replace(proxyHostJSON, `"certificate_id": 0`, `"certificate_id": 5`, 1))
	})

	host, err := client.GetProxyHost(context.Background(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	locations := append(host.Locations, Location{Path: "/abc", ForwardScheme: "http", ForwardHost: "game.example.com", ForwardPort: 25566})

	updated, err := client.UpdateLocations(context.Background(), 4, locations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.CertificateID.Attached() || updated.CertificateID != "5" {
		t.Fatalf("expected certificate 5, got %q", updated.CertificateID)
	}

	sent := received["locations"]
	if len(sent) != 2 {
		t.Fatalf("expected 2 locations sent, got %d", len(sent))
	}
	if sent[0]["location_type"] != "=" {
		t.Fatalf("expected unknown location field to be preserved, got %+v", sent[0])
	}
	if sent[1]["path"] != "/abc" || sent[1]["forward_host"] != "game.example.com" || sent[1]["advanced_config"] != "" {
		t.Fatalf("unexpected appended location: %+v", sent[1])
	}
}

func TestListProxyHostsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Token has expired"}}`)
	})

	_, err := client.ListProxyHosts(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Token has expired") {
		t.Fatalf("expected error summary, got %v", err)
	}
}

func TestNewClientAppendsAPIPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(config.ProxyConfig{BaseURL: "https://npm.example.com:81"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.proxyHostURL(7).String(); got != "https://npm.example.com:81/api/nginx/proxy-hosts/7" {
		t.Fatalf("unexpected proxy host url: %s", got)
	}

	client, err = NewClient(config.ProxyConfig{BaseURL: "https://npm.example.com/api"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.proxyHostsBase().String(); got != "https://npm.example.com/api/nginx/proxy-hosts" {
		t.Fatalf("unexpected proxy hosts url: %s", got)
	}
}

func TestCertificateIDDecoding(t *testing.T) {
	cases := map[string]CertificateID{
		`0`:     NoCertificate,
		`"0"`:   NoCertificate,
		`null`:  NoCertificate,
		`12`:    "12",
		`"new"`: "new",
	}
	for input, expected := range cases {
		var id CertificateID
		if err := json.Unmarshal([]byte(input), &id); err != nil {
			t.Fatalf("decode %s: %v", input, err)
		}
		if id != expected {
			t.Fatalf("decode %s: expected %q, got %q", input, expected, id)
		}
	}
}
