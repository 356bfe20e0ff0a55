package viewer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/stingray/zookeeper/internal/npm"
)

const (
	HTTPPort  = 80
	HTTPSPort = 443
)

// Params are the values the noVNC page needs to reach a published server.
type Params struct {
	Host     string
	Port     int
	Path     string
	Password string
}

// Composer builds connection URLs from a viewer page template.
type Composer struct {
	template *url.URL
	defaults url.Values
	password string
}

// NewComposer parses the viewer page template once.
func NewComposer(template string, password string) (*Composer, error) {
	parsed, err := url.Parse(template)
	if err != nil {
		return nil, fmt.Errorf("invalid viewer URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid viewer URL %q: scheme and host are required", template)
	}
	defaults, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid viewer URL query: %w", err)
	}
	return &Composer{template: parsed, defaults: defaults, password: password}, nil
}

// ParamsFor derives viewer parameters from the updated proxy host and the
// hex server id the route was published under.
func (composer *Composer) ParamsFor(host npm.ProxyHost, serverHex string) (Params, error) {
	if len(host.DomainNames) == 0 {
		return Params{}, fmt.Errorf("proxy host %d has no domain names", host.ID)
	}
	domain, err := asciiDomain(host.DomainNames[0])
	if err != nil {
		return Params{}, err
	}
	return Params{
		Host:     domain,
		Port:     PortFor(host.CertificateID),
		Path:     serverHex,
		Password: composer.password,
	}, nil
}

// Compose returns the template URL with its query replaced by params.
func (composer *Composer) Compose(params Params) string {
	merged := overlay(composer.defaults, params)

	composed := *composer.template
	composed.RawQuery = encode(merged, queryKeys)
	return composed.String()
}

// PortFor picks the public port the proxy serves a host on.
func PortFor(certificate npm.CertificateID) int {
	if certificate.Attached() {
		return HTTPSPort
	}
	return HTTPPort
}

var queryKeys = []string{"host", "port", "path", "password"}

// overlay lays params over the template defaults; params win on collision.
func overlay(defaults url.Values, params Params) url.Values {
	merged := url.Values{}
	for key, values := range defaults {
		merged[key] = append([]string(nil), values...)
	}
	merged.Set("host", params.Host)
	merged.Set("port", strconv.Itoa(params.Port))
	merged.Set("path", params.Path)
	merged.Set("password", params.Password)
	return merged
}

// encode writes only keys, in order. Template defaults outside keys are
// dropped.
func encode(values url.Values, keys []string) string {
	var builder strings.Builder
	for _, key := range keys {
		for _, value := range values[key] {
			if builder.Len() > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(true),
	idna.StrictDomainName(false),
)

func asciiDomain(domain string) (string, error) {
	ascii, err := domainProfile.ToASCII(strings.TrimSpace(domain))
	if err != nil {
		return "", fmt.Errorf("invalid proxy domain %q: %w", domain, err)
	}
	return ascii, nil
}
