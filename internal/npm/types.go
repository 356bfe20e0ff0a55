package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// NoCertificate is the certificate id of a proxy host served without TLS.
const NoCertificate CertificateID = "0"

// CertificateID identifies the TLS certificate attached to a proxy host. The
// API returns it as a number, as a string, or as null depending on version.
type CertificateID string

func (id *CertificateID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = NoCertificate
		return nil
	}
	if trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		if value == "" {
			value = string(NoCertificate)
		}
		*id = CertificateID(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("invalid certificate_id %s: %w", string(trimmed), err)
	}
	*id = CertificateID(number.String())
	return nil
}

func (id CertificateID) MarshalJSON() ([]byte, error) {
	if value, err := strconv.Atoi(string(id)); err == nil {
		return json.Marshal(value)
	}
	return json.Marshal(string(id))
}

// Attached reports whether the proxy host terminates TLS.
func (id CertificateID) Attached() bool {
	return id != NoCertificate
}

// Location is a path-based forwarding rule within a proxy host. Fields the
// client does not model are kept and written back untouched.
type Location struct {
	Path           string
	ForwardScheme  string
	ForwardHost    string
	ForwardPort    int
	AdvancedConfig string

	extra map[string]json.RawMessage
}

type locationPayload struct {
	Path           string `json:"path"`
	ForwardScheme  string `json:"forward_scheme"`
	ForwardHost    string `json:"forward_host"`
	ForwardPort    int    `json:"forward_port"`
	AdvancedConfig string `json:"advanced_config"`
}

var locationKeys = []string{"path", "forward_scheme", "forward_host", "forward_port", "advanced_config"}

func (location *Location) UnmarshalJSON(data []byte) error {
	var payload locationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}
	for _, key := range locationKeys {
		delete(raw, key)
	}

	*location = Location{
		Path:           payload.Path,
		ForwardScheme:  payload.ForwardScheme,
		ForwardHost:    payload.ForwardHost,
		ForwardPort:    payload.ForwardPort,
		AdvancedConfig: payload.AdvancedConfig,
	}
	if len(raw) > 0 {
		location.extra = raw
	}
	return nil
}

func (location Location) MarshalJSON() ([]byte, error) {
	merged := make(map[string]any, len(location.extra)+len(locationKeys))
	for key, value := range location.extra {
		merged[key] = value
	}
	merged["path"] = location.Path
	merged["forward_scheme"] = location.ForwardScheme
	merged["forward_host"] = location.ForwardHost
	merged["forward_port"] = location.ForwardPort
	merged["advanced_config"] = location.AdvancedConfig
	return json.Marshal(merged)
}

// ProxyHost is a proxy manager entry serving one set of public domains.
type ProxyHost struct {
	ID            int           `json:"id"`
	DomainNames   []string      `json:"domain_names"`
	ForwardScheme string        `json:"forward_scheme"`
	ForwardHost   string        `json:"forward_host"`
	ForwardPort   int           `json:"forward_port"`
	CertificateID CertificateID `json:"certificate_id"`
	Locations     []Location    `json:"locations"`
}

// API defines the proxy manager operations used by the publisher.
type API interface {
	ListProxyHosts(ctx context.Context) ([]ProxyHost, error)
	GetProxyHost(ctx context.Context, id int) (ProxyHost, error)
	UpdateLocations(ctx context.Context, id int, locations []Location) (ProxyHost, error)
}
