package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stingray/zookeeper/internal/config"
	"github.com/stingray/zookeeper/internal/npm"
	"github.com/stingray/zookeeper/internal/provision"
	"github.com/stingray/zookeeper/internal/pterodactyl"
	"github.com/stingray/zookeeper/internal/style"
	"github.com/stingray/zookeeper/internal/viewer"
)

// loggedError has already been reported through the run logger.
type loggedError struct {
	error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			log.Error("invalid invocation", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := config.DefaultFlags()

	command := &cobra.Command{
		Use:   "zookeeper",
		Short: "Create a game server on Pterodactyl and publish it through Nginx Proxy Manager",
		Long: `zookeeper creates a server on a Pterodactyl panel, looks up the allocation the
panel assigned to it, adds a location for it to an existing Nginx Proxy Manager
proxy host, and prints a noVNC URL that reaches the server through the proxy.

Credentials may come from flags, from STINGRAY_* environment variables, or from a
YAML profile given with --config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Changed = cmd.Flags().Changed
			return run(cmd.Context(), flags)
		},
	}

	set := command.Flags()
	set.StringVar(&flags.ConfigPath, "config", "", "YAML profile with credentials and server sizing (env "+config.EnvConfigPath+")")
	set.StringVarP(&flags.ProxyToken, "proxy-token", "t", "", "Nginx Proxy Manager API token (env "+config.EnvProxyToken+")")
	set.StringVarP(&flags.ProxyURL, "proxy-url", "x", "", "Nginx Proxy Manager host (env "+config.EnvProxyHost+")")
	set.StringVarP(&flags.PanelKey, "panel-key", "k", "", "Pterodactyl API key (env "+config.EnvPanelToken+")")
	set.StringVarP(&flags.PanelURL, "panel-url", "H", "", "Pterodactyl host (env "+config.EnvPanelHost+")")

	set.StringVarP(&flags.Name, "name", "n", flags.Name, "Name of the server")
	set.IntVar(&flags.Nest, "nest", 0, "Nest ID")
	set.IntVarP(&flags.Egg, "egg", "e", 0, "Egg ID")
	set.IntVarP(&flags.Location, "location", "l", flags.Location, "Location ID")
	set.IntVarP(&flags.Memory, "memory", "m", flags.Memory, "Memory allocation (Megabytes)")
	set.IntVarP(&flags.Swap, "swap", "s", flags.Swap, "Swap allocation (Megabytes) (-1 for infinite)")
	set.IntVarP(&flags.CPU, "cpu", "c", flags.CPU, "CPU allocation (Percentage)")
	set.IntVarP(&flags.Disk, "disk", "d", flags.Disk, "Disk allocation (Megabytes)")
	set.IntVarP(&flags.User, "user", "u", flags.User, "User ID")
	set.IntVarP(&flags.Proxy, "proxy", "p", 0, "Proxy host ID")

	set.StringVar(&flags.ViewerURL, "viewer-url", flags.ViewerURL, "noVNC page the connection URL is built from")
	set.StringVar(&flags.ViewerPassword, "viewer-password", flags.ViewerPassword, "Password passed to the noVNC page")
	set.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (env "+config.EnvLogLevel+")")

	return command
}

func run(ctx context.Context, flags config.Flags) error {
	cfg, err := config.Load(flags)
	if err != nil {
		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		log.Error("failed to load configuration", "error", err)
		return loggedError{err}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("run", ulid.Make().String())

	proxyClient, err := npm.NewClient(cfg.Proxy, logger)
	if err != nil {
		logger.Error("failed to initialize proxy manager client", "error", err)
		return loggedError{err}
	}
	panelClient, err := pterodactyl.NewClient(cfg.Panel, logger)
	if err != nil {
		logger.Error("failed to initialize panel client", "error", err)
		return loggedError{err}
	}
	composer, err := viewer.NewComposer(cfg.Viewer.URL, cfg.Viewer.Password)
	if err != nil {
		logger.Error("failed to initialize viewer URL", "error", err)
		return loggedError{err}
	}

	engine := provision.NewEngine(panelClient, proxyClient, composer, logger)
	result, err := engine.Run(ctx, cfg.Server, cfg.Proxy.HostID)
	if err != nil {
		logger.Error("provisioning failed", "error", err)
		return loggedError{err}
	}

	logger.Info("server will be accessible; wait for the server to finish installing before connecting", "url", result.URL)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stdout, style.Summary(result))
	}
	return nil
}
