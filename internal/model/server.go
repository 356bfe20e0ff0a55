package model

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ServerRequest describes the game server to create on the panel.
type ServerRequest struct {
	Name       string
	UserID     int
	NestID     *int
	EggID      *int
	LocationID int
	Memory     int
	Swap       int
	CPU        int
	Disk       int
}

// Server is the subset of a created panel server the publishing steps need.
type Server struct {
	UUID         uuid.UUID
	AllocationID int
	NodeID       int
}

// ParseServerUUID validates a panel server identifier.
func ParseServerUUID(value string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid server uuid %q: %w", value, err)
	}
	return parsed, nil
}

// Hex returns the server UUID without separators.
func (server Server) Hex() string {
	return HexUUID(server.UUID)
}

// RoutePath is the proxy location path the server is published under.
func (server Server) RoutePath() string {
	return "/" + server.Hex()
}

func HexUUID(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}
