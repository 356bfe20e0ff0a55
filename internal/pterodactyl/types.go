package pterodactyl

import (
	"context"
	"errors"

	"github.com/stingray/zookeeper/internal/model"
)

// ErrMalformedResponse marks a panel response missing fields the caller needs.
var ErrMalformedResponse = errors.New("malformed panel response")

// Location is a panel location together with its nodes.
type Location struct {
	ID    int
	Short string
	Long  string
	Nodes []Node
}

type Node struct {
	ID   int
	Name string
	FQDN string
}

// Egg is the application template a server is created from.
type Egg struct {
	ID          int
	NestID      int
	DockerImage string
	Startup     string
	Environment map[string]string
}

// CreateServerRequest is the body of the server creation endpoint.
type CreateServerRequest struct {
	Name          string            `json:"name"`
	User          int               `json:"user"`
	Egg           *int              `json:"egg,omitempty"`
	DockerImage   string            `json:"docker_image,omitempty"`
	Startup       string            `json:"startup,omitempty"`
	Environment   map[string]string `json:"environment"`
	OOMDisabled   bool              `json:"oom_disabled"`
	Limits        Limits            `json:"limits"`
	FeatureLimits FeatureLimits     `json:"feature_limits"`
	Deploy        Deploy            `json:"deploy"`
	StartOnDone   bool              `json:"start_on_completion"`
	SkipScripts   bool              `json:"skip_scripts"`
}

type Limits struct {
	Memory int `json:"memory"`
	Swap   int `json:"swap"`
	Disk   int `json:"disk"`
	IO     int `json:"io"`
	CPU    int `json:"cpu"`
}

type FeatureLimits struct {
	Databases   int `json:"databases"`
	Allocations int `json:"allocations"`
	Backups     int `json:"backups"`
}

type Deploy struct {
	Locations   []int    `json:"locations"`
	DedicatedIP bool     `json:"dedicated_ip"`
	PortRange   []string `json:"port_range"`
}

// API defines the panel operations used by the provisioner.
type API interface {
	ListLocations(ctx context.Context) ([]Location, error)
	GetEgg(ctx context.Context, nestID, eggID int) (Egg, error)
	CreateServer(ctx context.Context, request CreateServerRequest) (model.Server, error)
	ListNodeAllocations(ctx context.Context, nodeID int) ([]model.Allocation, error)
}
