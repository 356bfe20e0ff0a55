package provision

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stingray/zookeeper/internal/config"
	"github.com/stingray/zookeeper/internal/model"
	"github.com/stingray/zookeeper/internal/npm"
	"github.com/stingray/zookeeper/internal/pterodactyl"
	"github.com/stingray/zookeeper/internal/viewer"
)

const testUUID = "abcdef01-2345-6789-abcd-ef0123456789"

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestEngine(t *testing.T, panel pterodactyl.API, proxy npm.API) *Engine {
	t.Helper()
	composer, err := viewer.NewComposer(config.DefaultViewerURL, config.DefaultViewerPassword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewEngine(panel, proxy, composer, logger)
}

func defaultRequest() model.ServerRequest {
	return model.ServerRequest{Name: "Stingray", UserID: 1, LocationID: 1, Memory: 1000, Swap: -1, CPU: 100, Disk: 1000}
}

func TestEngineRunEndToEnd(t *testing.T) {
	id, err := model.ParseServerUUID(testUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	panel := &stubPanel{
		server: model.Server{UUID: id, AllocationID: 7, NodeID: 3},
		allocations: []model.Allocation{
			{ID: 5, IP: "10.0.0.5", Port: 25564},
			{ID: 7, IP: "10.0.0.5", Alias: "game.example.com", Port: 25565},
		},
	}
	proxy := &stubProxy{host: npm.ProxyHost{
		ID:            4,
		DomainNames:   []string{"proxy.example.com"},
		CertificateID: npm.NoCertificate,
		Locations:     []npm.Location{{Path: "/old", ForwardScheme: "http", ForwardHost: "10.0.0.9", ForwardPort: 1}},
	}}
	engine := newTestEngine(t, panel, proxy)

	result, err := engine.Run(context.Background(), defaultRequest(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if panel.allocationsNode != 3 {
		t.Fatalf("expected allocations of node 3, got %d", panel.allocationsNode)
	}
	if proxy.updatedID != 4 || len(proxy.updatedLocations) != 2 {
		t.Fatalf("unexpected proxy update: id=%d locations=%+v", proxy.updatedID, proxy.updatedLocations)
	}
	added := proxy.updatedLocations[1]
	if added.Path != "/abcdef0123456789abcdef0123456789" || added.ForwardHost != "game.example.com" ||
		added.ForwardPort != 25565 || added.ForwardScheme != "http" || added.AdvancedConfig != "" {
		t.Fatalf("unexpected added location: %+v", added)
	}

	parsed, err := url.Parse(result.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	query := parsed.Query()
	if query.Get("host") != "proxy.example.com" || query.Get("port") != "80" || query.Get("path") != "abcdef0123456789abcdef0123456789" {
		t.Fatalf("unexpected url query: %s", parsed.RawQuery)
	}
	if query.Get("password") != "password" {
		t.Fatalf("unexpected password: %q", query.Get("password"))
	}
	if parsed.Host != "novnc.com" || parsed.Path != "/noVNC/vnc_lite.html" {
		t.Fatalf("unexpected url base: %s", result.URL)
	}
}

func TestEngineRunProbeFailureCreatesNothing(t *testing.T) {
	panel := &stubPanel{locationsErr: errors.New("connection refused")}
	proxy := &stubProxy{}
	engine := newTestEngine(t, panel, proxy)

	if _, err := engine.Run(context.Background(), defaultRequest(), 4); err == nil {
		t.Fatalf("expected probe error")
	}
	if panel.created {
		t.Fatalf("expected no server to be created when the probe fails")
	}
}

func TestEngineRunAllocationMissing(t *testing.T) {
	id, _ := model.ParseServerUUID(testUUID)
	panel := &stubPanel{
		server:      model.Server{UUID: id, AllocationID: 7, NodeID: 3},
		allocations: []model.Allocation{{ID: 5, IP: "10.0.0.5", Port: 25564}},
	}
	proxy := &stubProxy{host: npm.ProxyHost{ID: 4, DomainNames: []string{"proxy.example.com"}}}
	engine := newTestEngine(t, panel, proxy)

	_, err := engine.Run(context.Background(), defaultRequest(), 4)
	if !errors.Is(err, ErrAllocationNotFound) {
		t.Fatalf("expected ErrAllocationNotFound, got %v", err)
	}
	if proxy.fetched {
		t.Fatalf("expected proxy host to be left alone")
	}
}

func TestEngineRunPublishFailure(t *testing.T) {
	id, _ := model.ParseServerUUID(testUUID)
	panel := &stubPanel{
		server:      model.Server{UUID: id, AllocationID: 7, NodeID: 3},
		allocations: []model.Allocation{{ID: 7, IP: "10.0.0.5", Port: 25565}},
	}
	proxy := &stubProxy{updateErr: errors.New("bad gateway")}
	engine := newTestEngine(t, panel, proxy)

	if _, err := engine.Run(context.Background(), defaultRequest(), 4); err == nil {
		t.Fatalf("expected publish error")
	}
	if !panel.created {
		t.Fatalf("expected server to have been created before the publish step")
	}
}

func TestProvisionResolvesEgg(t *testing.T) {
	panel := &stubPanel{
		egg: pterodactyl.Egg{
			ID:          5,
			DockerImage: "ghcr.io/pterodactyl/yolks:java_17",
			Startup:     "java -jar {{SERVER_JARFILE}}",
			Environment: map[string]string{"SERVER_JARFILE": "server.jar"},
		},
	}
	engine := newTestEngine(t, panel, &stubProxy{})

	nest, egg := 1, 5
	request := defaultRequest()
	request.NestID = &nest
	request.EggID = &egg

	if _, err := engine.Provision(context.Background(), request); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := panel.createRequest
	if sent.Egg == nil || *sent.Egg != 5 || sent.DockerImage != "ghcr.io/pterodactyl/yolks:java_17" {
		t.Fatalf("unexpected create request: %+v", sent)
	}
	if sent.Environment["SERVER_JARFILE"] != "server.jar" {
		t.Fatalf("expected egg environment defaults, got %+v", sent.Environment)
	}
	if sent.Limits.Memory != 1000 || sent.Limits.Swap != -1 || sent.Limits.CPU != 100 || sent.Limits.Disk != 1000 || sent.Limits.IO != defaultIOWeight {
		t.Fatalf("unexpected limits: %+v", sent.Limits)
	}
	if len(sent.Deploy.Locations) != 1 || sent.Deploy.Locations[0] != 1 {
		t.Fatalf("unexpected deploy locations: %+v", sent.Deploy.Locations)
	}
}

func TestProvisionWithoutNestSkipsEggLookup(t *testing.T) {
	panel := &stubPanel{eggErr: errors.New("should not be called")}
	engine := newTestEngine(t, panel, &stubProxy{})

	egg := 5
	request := defaultRequest()
	request.EggID = &egg

	if _, err := engine.Provision(context.Background(), request); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if panel.eggLoaded {
		t.Fatalf("expected no egg lookup without a nest id")
	}
	if panel.createRequest.Egg == nil || *panel.createRequest.Egg != 5 {
		t.Fatalf("expected egg id to be passed through")
	}
}

func TestFindAllocation(t *testing.T) {
	allocations := []model.Allocation{
		{ID: 1, IP: "10.0.0.1", Port: 1000},
		{ID: 7, IP: "10.0.0.7", Port: 1007},
		{ID: 7, IP: "10.0.0.8", Port: 1008},
	}

	found, err := FindAllocation(allocations, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.IP != "10.0.0.7" || found.Port != 1007 {
		t.Fatalf("expected first match, got %+v", found)
	}

	if _, err := FindAllocation(allocations, 9); !errors.Is(err, ErrAllocationNotFound) {
		t.Fatalf("expected ErrAllocationNotFound, got %v", err)
	}
	if _, err := FindAllocation(nil, 1); !errors.Is(err, ErrAllocationNotFound) {
		t.Fatalf("expected ErrAllocationNotFound for empty list, got %v", err)
	}
}

func TestAppendLocationIsNonDestructive(t *testing.T) {
	existing := make([]npm.Location, 2, 8)
	existing[0] = npm.Location{Path: "/a", ForwardScheme: "http", ForwardHost: "a", ForwardPort: 1}
	existing[1] = npm.Location{Path: "/b", ForwardScheme: "https", ForwardHost: "b", ForwardPort: 2, AdvancedConfig: "proxy_buffering off;"}
	original := append([]npm.Location(nil), existing...)

	updated := AppendLocation(existing, model.RouteSpec{Path: "/c", ForwardHost: "c", ForwardPort: 3})

	if len(updated) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(updated))
	}
	for i := range original {
		if updated[i].Path != original[i].Path || updated[i].ForwardHost != original[i].ForwardHost ||
			updated[i].ForwardPort != original[i].ForwardPort || updated[i].AdvancedConfig != original[i].AdvancedConfig {
			t.Fatalf("location %d changed: %+v", i, updated[i])
		}
	}
	if len(existing) != 2 || existing[:3][2].Path != "" {
		t.Fatalf("expected existing backing array to be untouched")
	}
	if updated[2].Path != "/c" || updated[2].ForwardScheme != "http" {
		t.Fatalf("unexpected appended location: %+v", updated[2])
	}
}

type stubPanel struct {
	locationsErr    error
	egg             pterodactyl.Egg
	eggErr          error
	eggLoaded       bool
	server          model.Server
	createErr       error
	created         bool
	createRequest   pterodactyl.CreateServerRequest
	allocations     []model.Allocation
	allocationsNode int
}

func (panel *stubPanel) ListLocations(ctx context.Context) ([]pterodactyl.Location, error) {
	if panel.locationsErr != nil {
		return nil, panel.locationsErr
	}
	return []pterodactyl.Location{{ID: 1, Short: "eu"}}, nil
}

func (panel *stubPanel) GetEgg(ctx context.Context, nestID, eggID int) (pterodactyl.Egg, error) {
	panel.eggLoaded = true
	if panel.eggErr != nil {
		return pterodactyl.Egg{}, panel.eggErr
	}
	return panel.egg, nil
}

func (panel *stubPanel) CreateServer(ctx context.Context, request pterodactyl.CreateServerRequest) (model.Server, error) {
	panel.createRequest = request
	if panel.createErr != nil {
		return model.Server{}, panel.createErr
	}
	panel.created = true
	return panel.server, nil
}

func (panel *stubPanel) ListNodeAllocations(ctx context.Context, nodeID int) ([]model.Allocation, error) {
	panel.allocationsNode = nodeID
	return panel.allocations, nil
}

type stubProxy struct {
	host             npm.ProxyHost
	fetched          bool
	updateErr        error
	updatedID        int
	updatedLocations []npm.Location
}

func (proxy *stubProxy) ListProxyHosts(ctx context.Context) ([]npm.ProxyHost, error) {
	return []npm.ProxyHost{proxy.host}, nil
}

func (proxy *stubProxy) GetProxyHost(ctx context.Context, id int) (npm.ProxyHost, error) {
	proxy.fetched = true
	return proxy.host, nil
}

func (proxy *stubProxy) UpdateLocations(ctx context.Context, id int, locations []npm.Location) (npm.ProxyHost, error) {
	if proxy.updateErr != nil {
		return npm.ProxyHost{}, proxy.updateErr
	}
	proxy.updatedID = id
	proxy.updatedLocations = locations
	updated := proxy.host
	updated.Locations = locations
	return updated, nil
}
