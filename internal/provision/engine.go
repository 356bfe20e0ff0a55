package provision

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/stingray/zookeeper/internal/model"
	"github.com/stingray/zookeeper/internal/npm"
	"github.com/stingray/zookeeper/internal/pterodactyl"
	"github.com/stingray/zookeeper/internal/viewer"
)

const defaultIOWeight = 500

// ErrAllocationNotFound is returned when a node does not list the allocation
// the panel assigned to a new server.
var ErrAllocationNotFound = errors.New("allocation not found")

// Engine creates a game server on the panel and publishes it on the proxy.
type Engine struct {
	panel    pterodactyl.API
	proxy    npm.API
	composer *viewer.Composer
	log      *slog.Logger
}

// Result describes a completed run.
type Result struct {
	Server     model.Server
	Allocation model.Allocation
	ProxyHost  npm.ProxyHost
	Viewer     viewer.Params
	URL        string
}

func NewEngine(panel pterodactyl.API, proxy npm.API, composer *viewer.Composer, logger *slog.Logger) *Engine {
	return &Engine{panel: panel, proxy: proxy, composer: composer, log: logger}
}

// Run executes probe, create, lookup, publish and compose in order. Nothing is
// rolled back: a server created before a later failure stays on the panel.
func (engine *Engine) Run(ctx context.Context, request model.ServerRequest, proxyHostID int) (Result, error) {
	if err := engine.Probe(ctx); err != nil {
		return Result{}, err
	}

	server, err := engine.Provision(ctx, request)
	if err != nil {
		return Result{}, fmt.Errorf("create server: %w", err)
	}

	allocation, err := engine.ResolveAllocation(ctx, server)
	if err != nil {
		engine.warnOrphan(server, "allocation lookup failed")
		return Result{}, fmt.Errorf("resolve allocation of server %s: %w", server.UUID, err)
	}

	route := model.NewRouteSpec(server, allocation)
	host, err := engine.Publish(ctx, proxyHostID, route)
	if err != nil {
		engine.warnOrphan(server, "proxy publish failed")
		return Result{}, fmt.Errorf("publish server %s on proxy host %d: %w", server.UUID, proxyHostID, err)
	}

	params, err := engine.composer.ParamsFor(host, server.Hex())
	if err != nil {
		return Result{}, fmt.Errorf("compose viewer url: %w", err)
	}

	return Result{
		Server:     server,
		Allocation: allocation,
		ProxyHost:  host,
		Viewer:     params,
		URL:        engine.composer.Compose(params),
	}, nil
}

// Probe checks both services with a read-only call before anything is created.
func (engine *Engine) Probe(ctx context.Context) error {
	engine.log.Info("polling proxy manager")
	hosts, err := engine.proxy.ListProxyHosts(ctx)
	if err != nil {
		return fmt.Errorf("proxy manager unreachable: %w", err)
	}
	engine.log.Info("proxy manager is online", "proxy_hosts", len(hosts))

	engine.log.Info("polling panel")
	locations, err := engine.panel.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("panel unreachable: %w", err)
	}
	engine.log.Info("panel is online", "locations", len(locations))
	return nil
}

// Provision creates the server and returns its identity.
func (engine *Engine) Provision(ctx context.Context, request model.ServerRequest) (model.Server, error) {
	createRequest, err := engine.buildCreateRequest(ctx, request)
	if err != nil {
		return model.Server{}, err
	}

	server, err := engine.panel.CreateServer(ctx, createRequest)
	if err != nil {
		return model.Server{}, err
	}
	engine.log.Info("server successfully created", "uuid", server.UUID.String(), "node", server.NodeID, "allocation", server.AllocationID)
	return server, nil
}

func (engine *Engine) buildCreateRequest(ctx context.Context, request model.ServerRequest) (pterodactyl.CreateServerRequest, error) {
	createRequest := pterodactyl.CreateServerRequest{
		Name:        request.Name,
		User:        request.UserID,
		Egg:         request.EggID,
		Environment: map[string]string{},
		OOMDisabled: true,
		Limits: pterodactyl.Limits{
			Memory: request.Memory,
			Swap:   request.Swap,
			Disk:   request.Disk,
			IO:     defaultIOWeight,
			CPU:    request.CPU,
		},
		Deploy: pterodactyl.Deploy{
			Locations: []int{request.LocationID},
			PortRange: []string{},
		},
	}

	if request.NestID == nil || request.EggID == nil {
		engine.log.Debug("nest or egg not set; leaving egg defaults to the panel")
		return createRequest, nil
	}

	egg, err := engine.panel.GetEgg(ctx, *request.NestID, *request.EggID)
	if err != nil {
		return pterodactyl.CreateServerRequest{}, fmt.Errorf("load egg %d of nest %d: %w", *request.EggID, *request.NestID, err)
	}
	createRequest.DockerImage = egg.DockerImage
	createRequest.Startup = egg.Startup
	for key, value := range egg.Environment {
		createRequest.Environment[key] = value
	}
	return createRequest, nil
}

// ResolveAllocation finds the network allocation assigned to server.
func (engine *Engine) ResolveAllocation(ctx context.Context, server model.Server) (model.Allocation, error) {
	allocations, err := engine.panel.ListNodeAllocations(ctx, server.NodeID)
	if err != nil {
		return model.Allocation{}, err
	}
	engine.log.Debug("node allocations listed", "node", server.NodeID, "allocations", len(allocations))

	allocation, err := FindAllocation(allocations, server.AllocationID)
	if err != nil {
		return model.Allocation{}, fmt.Errorf("node %d: %w", server.NodeID, err)
	}
	engine.log.Info("allocation resolved", "address", allocation.Address(), "port", allocation.Port)
	return allocation, nil
}

// Publish appends route to the proxy host's locations and writes them back.
// There is no concurrency check: a concurrent edit between read and write is
// overwritten.
func (engine *Engine) Publish(ctx context.Context, proxyHostID int, route model.RouteSpec) (npm.ProxyHost, error) {
	current, err := engine.proxy.GetProxyHost(ctx, proxyHostID)
	if err != nil {
		return npm.ProxyHost{}, err
	}

	locations := AppendLocation(current.Locations, route)
	engine.log.Info("updating proxy host locations", "proxy_host", proxyHostID, "path", route.Path, "existing_locations", len(current.Locations))

	updated, err := engine.proxy.UpdateLocations(ctx, proxyHostID, locations)
	if err != nil {
		return npm.ProxyHost{}, err
	}
	return updated, nil
}

// FindAllocation returns the first allocation with the given id.
func FindAllocation(allocations []model.Allocation, id int) (model.Allocation, error) {
	for _, allocation := range allocations {
		if allocation.ID == id {
			return allocation, nil
		}
	}
	return model.Allocation{}, fmt.Errorf("%w: id %d among %d allocations", ErrAllocationNotFound, id, len(allocations))
}

// AppendLocation returns a new list holding existing followed by route.
// existing is not modified.
func AppendLocation(existing []npm.Location, route model.RouteSpec) []npm.Location {
	locations := make([]npm.Location, 0, len(existing)+1)
	locations = append(locations, existing...)
	return append(locations, npm.Location{
		Path:           route.Path,
		ForwardScheme:  model.ForwardScheme,
		ForwardHost:    route.ForwardHost,
		ForwardPort:    route.ForwardPort,
		AdvancedConfig: "",
	})
}

func (engine *Engine) warnOrphan(server model.Server, reason string) {
	engine.log.Warn("server was created but is not published; remove it from the panel or publish it manually", "uuid", server.UUID.String(), "reason", reason)
}
