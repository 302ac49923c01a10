package v16

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
)

// nonceRing remembers the last N nonces seen so redelivered commands are
// executed once. Nonces increase monotonically per station, so a small
// window is enough.
type nonceRing struct {
	seen  map[int64]struct{}
	order []int64
	next  int
}

func newNonceRing(size int) *nonceRing {
	return &nonceRing{
		seen:  make(map[int64]struct{}, size),
		order: make([]int64, size),
	}
}

// observe returns false when the nonce was already seen.
func (r *nonceRing) observe(nonce int64) bool {
	if _, dup := r.seen[nonce]; dup {
		return false
	}
	if old := r.order[r.next]; old != 0 {
		delete(r.seen, old)
	}
	r.order[r.next] = nonce
	r.next = (r.next + 1) % len(r.order)
	r.seen[nonce] = struct{}{}
	return true
}

// consumeCommands executes routed commands for this station in order,
// deduplicating redeliveries by nonce.
func (s *session) consumeCommands(commands <-chan domain.Command) {
	ring := newNonceRing(commandDedupSize)
	for {
		select {
		case <-s.done:
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if !ring.observe(cmd.Nonce) {
				s.log.Debug("duplicate command skipped",
					zap.Int64("nonce", cmd.Nonce),
					zap.String("command", string(cmd.Name)))
				continue
			}
			s.executeCommand(cmd)
		}
	}
}

func (s *session) executeCommand(cmd domain.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout())
	defer cancel()

	var payload interface{}
	if len(cmd.Payload) > 0 {
		payload = cmd.Payload
	}

	result, err := s.Call(ctx, string(cmd.Name), payload)
	if err != nil {
		s.log.Warn("command failed",
			zap.String("command", string(cmd.Name)),
			zap.Int64("nonce", cmd.Nonce),
			zap.Error(err))
		return
	}

	// Most command responses carry a status field; surface rejections.
	var outcome struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &outcome); err == nil && outcome.Status != "" && outcome.Status != "Accepted" {
		s.log.Warn("command rejected by station",
			zap.String("command", string(cmd.Name)),
			zap.Int64("nonce", cmd.Nonce),
			zap.String("status", outcome.Status))
		return
	}

	s.log.Info("command executed",
		zap.String("command", string(cmd.Name)),
		zap.Int64("nonce", cmd.Nonce))
}
