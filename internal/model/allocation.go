package model

import "strings"

// Allocation is an address and port pair owned by a panel node.
type Allocation struct {
	ID       int
	IP       string
	Alias    string
	Port     int
	Assigned bool
}

// Address returns the externally reachable host, preferring the alias.
func (allocation Allocation) Address() string {
	if alias := strings.TrimSpace(allocation.Alias); alias != "" {
		return alias
	}
	return allocation.IP
}
