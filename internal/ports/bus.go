package ports

import (
	"context"

	"github.com/evpower/csms/internal/domain"
)

// CommandRouter bridges REST-initiated commands to the process owning the
// station socket. Delivery is at-least-once; consumers deduplicate by nonce.
type CommandRouter interface {
	// Publish fails with StationUnavailable when no subscriber owns the
	// station, so the caller can compensate.
	Publish(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error
	Subscribe(ctx context.Context, stationID string) (<-chan domain.Command, func(), error)
}

// StationHandle is the local actor side of a connected station socket.
type StationHandle interface {
	StationID() string
	Epoch() int64
	Close(reason string)
}

// StationRegistry tracks which connections own which station id: a local map
// on each process, mirrored into Redis so any process can answer liveness.
type StationRegistry interface {
	// Register returns the connection epoch assigned to this handle.
	Register(ctx context.Context, h StationHandle) (int64, error)
	// Unregister is a no-op when a newer epoch has replaced the handle.
	Unregister(ctx context.Context, stationID string, epoch int64) error
	Lookup(stationID string) (StationHandle, bool)
	// IsConnected consults the local map first, then the mirror.
	IsConnected(ctx context.Context, stationID string) (bool, error)
	// Refresh extends the mirror TTL; called on heartbeat.
	Refresh(ctx context.Context, stationID string) error
}
