package config

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/stingray/zookeeper/internal/model"
)

const (
	EnvProxyToken = "STINGRAY_PROXY_TOKEN"
	EnvProxyHost  = "STINGRAY_PROXY_HOST"
	EnvPanelToken = "STINGRAY_PANEL_TOKEN"
	EnvPanelHost  = "STINGRAY_PANEL_HOST"
	EnvConfigPath = "STINGRAY_CONFIG"
	EnvLogLevel   = "LOG_LEVEL"

	// DefaultViewerURL is the noVNC page the connection URL is built from.
	DefaultViewerURL = "https://novnc.com/noVNC/vnc_lite.html"
	// DefaultViewerPassword is handed to the viewer as-is; nothing generates it.
	DefaultViewerPassword = "password"
)

// Config captures all runtime configuration for a single provisioning run.
type Config struct {
	Proxy    ProxyConfig
	Panel    PanelConfig
	Server   model.ServerRequest
	Viewer   ViewerConfig
	LogLevel slog.Level
}

type ProxyConfig struct {
	BaseURL string
	Token   string
	HostID  int
}

type PanelConfig struct {
	BaseURL string
	Token   string
}

type ViewerConfig struct {
	URL      string
	Password string
}

// Flags holds raw command-line values. Changed reports whether the user set a
// flag explicitly; a nil Changed means no flag was set.
type Flags struct {
	ConfigPath string
	ProxyToken string
	ProxyURL   string
	PanelKey   string
	PanelURL   string

	Name     string
	Nest     int
	Egg      int
	Location int
	Memory   int
	Swap     int
	CPU      int
	Disk     int
	User     int
	Proxy    int

	ViewerURL      string
	ViewerPassword string
	LogLevel       string

	Changed func(name string) bool
}

// DefaultFlags returns the flag defaults of the command line.
func DefaultFlags() Flags {
	return Flags{
		Name:           "Stingray",
		Location:       1,
		Memory:         1000,
		Swap:           -1,
		CPU:            100,
		Disk:           1000,
		User:           1,
		ViewerURL:      DefaultViewerURL,
		ViewerPassword: DefaultViewerPassword,
	}
}

func (flags Flags) changed(name string) bool {
	return flags.Changed != nil && flags.Changed(name)
}

// MissingError reports a required value absent from every source.
type MissingError struct {
	Field string
	Flag  string
	Env   string
}

func (err *MissingError) Error() string {
	if err.Env == "" {
		return fmt.Sprintf("%s not provided: set %s", err.Field, err.Flag)
	}
	return fmt.Sprintf("%s not provided: set %s or %s", err.Field, err.Flag, err.Env)
}

// Load resolves configuration against the process environment.
func Load(flags Flags) (Config, error) {
	return Resolve(flags, os.LookupEnv)
}

// Resolve merges flags, environment, and the optional profile file. Flags win
// over the environment, the environment wins over the profile.
func Resolve(flags Flags, lookupEnv func(string) (string, bool)) (Config, error) {
	profilePath := firstNonEmpty(flags.ConfigPath, envValue(lookupEnv, EnvConfigPath))
	profile := Profile{}
	if profilePath != "" {
		loaded, err := LoadProfile(profilePath)
		if err != nil {
			return Config{}, err
		}
		profile = loaded
	}

	logLevel, err := parseLogLevel(firstNonEmpty(flags.LogLevel, envValue(lookupEnv, EnvLogLevel), "info"))
	if err != nil {
		return Config{}, err
	}

	proxyToken, err := requiredValue(&MissingError{Field: "proxy token", Flag: "--proxy-token", Env: EnvProxyToken},
		flags.ProxyToken, envValue(lookupEnv, EnvProxyToken), profile.Proxy.Token)
	if err != nil {
		return Config{}, err
	}
	proxyHost, err := requiredValue(&MissingError{Field: "proxy host", Flag: "--proxy-url", Env: EnvProxyHost},
		flags.ProxyURL, envValue(lookupEnv, EnvProxyHost), profile.Proxy.URL)
	if err != nil {
		return Config{}, err
	}
	panelToken, err := requiredValue(&MissingError{Field: "panel token", Flag: "--panel-key", Env: EnvPanelToken},
		flags.PanelKey, envValue(lookupEnv, EnvPanelToken), profile.Panel.Token)
	if err != nil {
		return Config{}, err
	}
	panelHost, err := requiredValue(&MissingError{Field: "panel host", Flag: "--panel-url", Env: EnvPanelHost},
		flags.PanelURL, envValue(lookupEnv, EnvPanelHost), profile.Panel.URL)
	if err != nil {
		return Config{}, err
	}

	proxyID := intValue(flags.changed("proxy"), flags.Proxy, profile.Proxy.HostID)
	if proxyID <= 0 {
		return Config{}, &MissingError{Field: "proxy host id", Flag: "--proxy"}
	}

	name := flags.Name
	if !flags.changed("name") && strings.TrimSpace(profile.Server.Name) != "" {
		name = profile.Server.Name
	}
	if strings.TrimSpace(name) == "" {
		return Config{}, &MissingError{Field: "server name", Flag: "--name"}
	}

	viewerURL := flags.ViewerURL
	if !flags.changed("viewer-url") && profile.Viewer.URL != "" {
		viewerURL = profile.Viewer.URL
	}
	viewerPassword := flags.ViewerPassword
	if !flags.changed("viewer-password") && profile.Viewer.Password != "" {
		viewerPassword = profile.Viewer.Password
	}

	return Config{
		Proxy: ProxyConfig{
			BaseURL: normalizeBaseURL(proxyHost),
			Token:   proxyToken,
			HostID:  proxyID,
		},
		Panel: PanelConfig{
			BaseURL: normalizeBaseURL(panelHost),
			Token:   panelToken,
		},
		Server: model.ServerRequest{
			Name:       name,
			UserID:     intValue(flags.changed("user"), flags.User, profile.Server.User),
			NestID:     optionalInt(flags.changed("nest"), flags.Nest, profile.Server.Nest),
			EggID:      optionalInt(flags.changed("egg"), flags.Egg, profile.Server.Egg),
			LocationID: intValue(flags.changed("location"), flags.Location, profile.Server.Location),
			Memory:     intValue(flags.changed("memory"), flags.Memory, profile.Server.Memory),
			Swap:       intValue(flags.changed("swap"), flags.Swap, profile.Server.Swap),
			CPU:        intValue(flags.changed("cpu"), flags.CPU, profile.Server.CPU),
			Disk:       intValue(flags.changed("disk"), flags.Disk, profile.Server.Disk),
		},
		Viewer: ViewerConfig{
			URL:      viewerURL,
			Password: viewerPassword,
		},
		LogLevel: logLevel,
	}, nil
}

func requiredValue(missing *MissingError, candidates ...string) (string, error) {
	value := firstNonEmpty(candidates...)
	if value == "" {
		return "", missing
	}
	return value, nil
}

func envValue(lookupEnv func(string) (string, bool), key string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func intValue(flagSet bool, flagValue int, profileValue *int) int {
	if !flagSet && profileValue != nil {
		return *profileValue
	}
	return flagValue
}

func optionalInt(flagSet bool, flagValue int, profileValue *int) *int {
	if flagSet {
		return &flagValue
	}
	return profileValue
}

// normalizeBaseURL assumes https for bare hosts and drops trailing slashes.
func normalizeBaseURL(value string) string {
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "https://" + value
	}
	return strings.TrimRight(value, "/")
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %s", value)
	}
}
