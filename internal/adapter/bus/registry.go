package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/ports"
)

const (
	connectedStationsKey = "connected_stations"
	stationConnPrefix    = "stations:conn:"
)

type registryEntry struct {
	handle ports.StationHandle
	epoch  int64
}

// Registry tracks which connections own which station id: an in-memory map on
// this process, mirrored into Redis so any process can answer liveness. The
// mirror key carries a TTL of twice the heartbeat interval and is refreshed on
// every heartbeat.
type Registry struct {
	cache ports.Cache
	log   *zap.Logger
	ttl   time.Duration

	mu    sync.RWMutex
	local map[string]registryEntry
	epoch atomic.Int64
}

func NewRegistry(cache ports.Cache, heartbeatInterval time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		cache: cache,
		log:   log,
		ttl:   2 * heartbeatInterval,
		local: make(map[string]registryEntry),
	}
}

// Register installs the handle locally and mirrors it. A station reconnecting
// before its old entry is gone simply takes a newer epoch; the stale
// Unregister from the old socket then becomes a no-op.
func (r *Registry) Register(ctx context.Context, h ports.StationHandle) (int64, error) {
	epoch := r.epoch.Add(1)

	r.mu.Lock()
	if old, ok := r.local[h.StationID()]; ok {
		old.handle.Close("replaced by a newer connection")
	}
	r.local[h.StationID()] = registryEntry{handle: h, epoch: epoch}
	r.mu.Unlock()

	if err := r.cache.SetAdd(ctx, connectedStationsKey, h.StationID()); err != nil {
		r.log.Warn("Failed to mirror station into registry set",
			zap.String("station_id", h.StationID()), zap.Error(err))
	}
	if err := r.cache.Set(ctx, stationConnPrefix+h.StationID(), strconv.FormatInt(epoch, 10), r.ttl); err != nil {
		r.log.Warn("Failed to mirror station connection key",
			zap.String("station_id", h.StationID()), zap.Error(err))
	}

	r.log.Info("Station registered",
		zap.String("station_id", h.StationID()),
		zap.Int64("epoch", epoch),
	)
	return epoch, nil
}

func (r *Registry) Unregister(ctx context.Context, stationID string, epoch int64) error {
	r.mu.Lock()
	entry, ok := r.local[stationID]
	if !ok || entry.epoch != epoch {
		// a newer connection owns the id
		r.mu.Unlock()
		return nil
	}
	delete(r.local, stationID)
	r.mu.Unlock()

	if err := r.cache.SetRemove(ctx, connectedStationsKey, stationID); err != nil {
		r.log.Warn("Failed to remove station from registry set",
			zap.String("station_id", stationID), zap.Error(err))
	}
	if err := r.cache.Delete(ctx, stationConnPrefix+stationID); err != nil {
		r.log.Warn("Failed to delete station connection key",
			zap.String("station_id", stationID), zap.Error(err))
	}

	r.log.Info("Station unregistered",
		zap.String("station_id", stationID),
		zap.Int64("epoch", epoch),
	)
	return nil
}

// Lookup answers only for sockets owned by this process.
func (r *Registry) Lookup(stationID string) (ports.StationHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.local[stationID]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

// IsConnected consults the local map first; a miss falls through to the
// mirror, which may be owned by another process.
func (r *Registry) IsConnected(ctx context.Context, stationID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.local[stationID]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}

	val, err := r.cache.Get(ctx, stationConnPrefix+stationID)
	if err != nil {
		return false, err
	}
	return val != "", nil
}

// Refresh extends the mirror TTL. Called on every heartbeat so a silent
// station expires out of the mirror on its own.
func (r *Registry) Refresh(ctx context.Context, stationID string) error {
	r.mu.RLock()
	entry, ok := r.local[stationID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := r.cache.SetAdd(ctx, connectedStationsKey, stationID); err != nil {
		return err
	}
	return r.cache.Set(ctx, stationConnPrefix+stationID, strconv.FormatInt(entry.epoch, 10), r.ttl)
}
