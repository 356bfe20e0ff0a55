package model

// ForwardScheme is the scheme every published game server route uses.
const ForwardScheme = "http"

// RouteSpec describes the proxy location that forwards to a game server.
type RouteSpec struct {
	Path        string
	ForwardHost string
	ForwardPort int
}

// NewRouteSpec builds the route that publishes server at allocation.
func NewRouteSpec(server Server, allocation Allocation) RouteSpec {
	return RouteSpec{
		Path:        server.RoutePath(),
		ForwardHost: allocation.Address(),
		ForwardPort: allocation.Port,
	}
}
