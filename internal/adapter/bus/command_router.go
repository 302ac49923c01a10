package bus

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/observability/telemetry"
	"github.com/evpower/csms/internal/ports"
)

const (
	commandTopicPrefix = "commands:"
	commandNoncePrefix = "commands:nonce:"
	undeliveredPrefix  = "commands:undelivered:"
	undeliveredTTL     = 24 * time.Hour
)

// CommandRouter delivers REST-initiated commands to whichever process owns the
// station socket, over a Redis pub/sub topic per station. Delivery is
// at-least-once; each command carries a per-station monotonic nonce so the
// session handler can drop redeliveries.
type CommandRouter struct {
	pubsub   ports.PubSub
	cache    ports.Cache
	registry ports.StationRegistry
	log      *zap.Logger
}

func NewCommandRouter(pubsub ports.PubSub, cache ports.Cache, registry ports.StationRegistry, log *zap.Logger) *CommandRouter {
	return &CommandRouter{
		pubsub:   pubsub,
		cache:    cache,
		registry: registry,
		log:      log,
	}
}

func (r *CommandRouter) Publish(ctx context.Context, stationID string, name domain.CommandName, payload interface{}) error {
	connected, err := r.registry.IsConnected(ctx, stationID)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "registry lookup failed", err)
	}
	if !connected {
		r.recordUndelivered(ctx, stationID, name, "station not registered")
		return domain.Errorf(domain.KindStationUnavailable, "station %s is not connected", stationID)
	}

	nonce, err := r.cache.Incr(ctx, commandNoncePrefix+stationID)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "failed to allocate command nonce", err)
	}

	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			return domain.WrapError(domain.KindInternal, "failed to marshal command payload", err)
		}
	}

	cmd := domain.Command{
		Nonce:     nonce,
		StationID: stationID,
		Name:      name,
		Payload:   raw,
		IssuedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "failed to marshal command", err)
	}

	if err := r.pubsub.Publish(ctx, commandTopicPrefix+stationID, data); err != nil {
		r.recordUndelivered(ctx, stationID, name, "publish failed")
		return domain.WrapError(domain.KindStationUnavailable, "command publish failed", err)
	}

	// The registry mirror can outlive a socket by up to its TTL; a publish
	// nobody received still needs compensation.
	subs, err := r.pubsub.NumSubscribers(ctx, commandTopicPrefix+stationID)
	if err == nil && subs == 0 {
		r.recordUndelivered(ctx, stationID, name, "no subscriber")
		return domain.Errorf(domain.KindStationUnavailable, "no subscriber for station %s", stationID)
	}

	telemetry.CommandsPublished.WithLabelValues(string(name)).Inc()
	r.log.Debug("Command published",
		zap.String("station_id", stationID),
		zap.String("command", string(name)),
		zap.Int64("nonce", nonce),
	)
	return nil
}

// Subscribe is consumed by the OCPP session handler owning the socket.
func (r *CommandRouter) Subscribe(ctx context.Context, stationID string) (<-chan domain.Command, func(), error) {
	raw, cancel, err := r.pubsub.Subscribe(ctx, commandTopicPrefix+stationID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.Command, 16)
	go func() {
		defer close(out)
		for data := range raw {
			var cmd domain.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				r.log.Warn("Dropping malformed command",
					zap.String("station_id", stationID), zap.Error(err))
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func (r *CommandRouter) recordUndelivered(ctx context.Context, stationID string, name domain.CommandName, reason string) {
	telemetry.CommandsUndelivered.WithLabelValues(string(name)).Inc()
	r.log.Warn("Command undelivered",
		zap.String("station_id", stationID),
		zap.String("command", string(name)),
		zap.String("reason", reason),
	)
	key := undeliveredPrefix + stationID
	entry := string(name) + "@" + time.Now().UTC().Format(time.RFC3339)
	if err := r.cache.Set(ctx, key, entry, undeliveredTTL); err != nil {
		r.log.Warn("Failed to record undelivered command", zap.Error(err))
	}
}
