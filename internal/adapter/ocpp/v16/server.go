package v16

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/observability/telemetry"
	"github.com/evpower/csms/internal/ports"
	"github.com/evpower/csms/pkg/config"
)

const (
	subprotocol      = "ocpp1.6"
	writeTimeout     = 10 * time.Second
	malformedLimit   = 3
	malformedWindow  = 10 * time.Second
	bootRejectLimit  = 3
	commandDedupSize = 1024
)

// Server terminates OCPP 1.6-JSON websockets at /ws/{station_id}. Each
// accepted socket becomes a session actor owning all reads, ordered handler
// dispatch and outbound calls for its station.
type Server struct {
	cfg       config.OCPPConfig
	charging  ports.ChargingService
	directory ports.StationDirectory
	registry  ports.StationRegistry
	router    ports.CommandRouter
	handlers  *Handlers
	log       *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	sockets  atomic.Int64

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewServer(
	cfg config.OCPPConfig,
	charging ports.ChargingService,
	directory ports.StationDirectory,
	registry ports.StationRegistry,
	router ports.CommandRouter,
	log *zap.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		charging:  charging,
		directory: directory,
		registry:  registry,
		router:    router,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
	s.handlers = NewHandlers(charging, directory, registry, cfg, log)
	return s
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.handleWebSocket)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("ocpp server listening", zap.Int("port", s.cfg.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes every open station session and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.Close("server shutting down")
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if stationID == "" || strings.Contains(stationID, "/") {
		http.Error(w, "station id required", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed",
			zap.String("station_id", stationID),
			zap.Error(err))
		return
	}

	if conn.Subprotocol() != subprotocol {
		s.log.Warn("station offered no ocpp1.6 subprotocol", zap.String("station_id", stationID))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "ocpp1.6 subprotocol required"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}

	if s.sockets.Add(1) > int64(s.cfg.MaxSocketsPerProcess) {
		s.sockets.Add(-1)
		s.log.Warn("socket limit reached, refusing station", zap.String("station_id", stationID))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity, retry in 60s"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}

	sess := newSession(s, stationID, conn)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	telemetry.ConnectedStations.Inc()
	go sess.run()
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.sockets.Add(-1)
	telemetry.ConnectedStations.Dec()
}

// Session states. Transitions only move forward.
const (
	stateConnecting int32 = iota
	stateBooted
	stateOperational
	stateClosing
	stateClosed
)

// session is the per-station actor. The read loop is the only reader, the
// inbox consumer is the only handler dispatcher, and writes are serialized
// through writeMu so handler replies and outbound calls never interleave.
type session struct {
	server    *Server
	stationID string
	epoch     int64
	conn      *websocket.Conn
	log       *zap.Logger

	writeMu sync.Mutex
	pending *pendingCalls
	inbox   chan *Frame

	state       atomic.Int32
	bootRejects int
	malformedAt []time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(server *Server, stationID string, conn *websocket.Conn) *session {
	inboxSize := server.cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 64
	}
	return &session{
		server:    server,
		stationID: stationID,
		conn:      conn,
		log:       server.log.With(zap.String("station_id", stationID)),
		pending:   newPendingCalls(),
		inbox:     make(chan *Frame, inboxSize),
		done:      make(chan struct{}),
	}
}

func (s *session) StationID() string { return s.stationID }
func (s *session) Epoch() int64      { return s.epoch }

// Close is idempotent and safe from any goroutine.
func (s *session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(stateClosing)
		s.log.Info("closing station session", zap.String("reason", reason))
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(writeTimeout))
		close(s.done)
		s.conn.Close()
		s.state.Store(stateClosed)
	})
}

func (s *session) run() {
	defer s.server.dropSession(s)

	ctx := context.Background()
	epoch, err := s.server.registry.Register(ctx, s)
	if err != nil {
		s.log.Error("station registration failed", zap.Error(err))
		s.Close("registration failed")
		return
	}
	s.epoch = epoch
	defer func() {
		if err := s.server.registry.Unregister(ctx, s.stationID, s.epoch); err != nil {
			s.log.Warn("station unregister failed", zap.Error(err))
		}
	}()

	commands, cancelCommands, err := s.server.router.Subscribe(ctx, s.stationID)
	if err != nil {
		s.log.Error("command subscription failed", zap.Error(err))
		s.Close("command subscription failed")
		return
	}
	defer cancelCommands()

	go s.consumeInbox()
	go s.consumeCommands(commands)

	s.readLoop()
	s.Close("connection lost")
	close(s.inbox)
}

// readLoop is the sole reader. Replies to our calls resolve immediately so
// they are never stuck behind a busy handler; station-initiated calls go
// through the bounded inbox, which backpressures the socket when full.
func (s *session) readLoop() {
	idleTimeout := 2*s.server.cfg.HeartbeatIntervalDuration() + 30*time.Second

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			if s.recordMalformed() {
				s.log.Warn("malformed frame storm, dropping connection")
				s.Close("too many malformed frames")
				return
			}
			s.log.Warn("malformed frame", zap.Error(err))
			s.replyError("-1", ErrCodeFormationViolation, err.Error())
			continue
		}

		switch frame.Type {
		case CallMessage:
			telemetry.OCPPMessagesTotal.WithLabelValues(frame.Action, "inbound").Inc()
			select {
			case s.inbox <- frame:
			case <-s.done:
				return
			}
		case CallResultMessage:
			if !s.pending.resolve(frame.UniqueID, callOutcome{payload: frame.Payload}) {
				s.log.Debug("late call result discarded", zap.String("unique_id", frame.UniqueID))
			}
		case CallErrorMessage:
			if !s.pending.resolve(frame.UniqueID, callOutcome{errCode: frame.ErrorCode, errDesc: frame.ErrorDescription}) {
				s.log.Debug("late call error discarded", zap.String("unique_id", frame.UniqueID))
			}
		}
	}
}

// recordMalformed returns true once the storm threshold is crossed.
func (s *session) recordMalformed() bool {
	now := time.Now()
	kept := s.malformedAt[:0]
	for _, t := range s.malformedAt {
		if now.Sub(t) < malformedWindow {
			kept = append(kept, t)
		}
	}
	s.malformedAt = append(kept, now)
	return len(s.malformedAt) >= malformedLimit
}

// consumeInbox processes station-initiated calls strictly in arrival order.
func (s *session) consumeInbox() {
	for frame := range s.inbox {
		s.dispatch(frame)
	}
}

func (s *session) dispatch(frame *Frame) {
	if s.state.Load() >= stateClosing {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout())
	defer cancel()

	if frame.Action != "BootNotification" && s.state.Load() == stateConnecting {
		s.replyError(frame.UniqueID, ErrCodeGenericError, "BootNotification required before other actions")
		return
	}

	resp, callErr := s.server.handlers.Handle(ctx, s.stationID, frame.Action, frame.Payload)
	if callErr != nil {
		s.replyError(frame.UniqueID, callErr.Code, callErr.Description)
		return
	}

	switch frame.Action {
	case "BootNotification":
		if boot, ok := resp.(bootNotificationResp); ok {
			if boot.Status == bootStatusAccepted {
				s.bootRejects = 0
				s.state.CompareAndSwap(stateConnecting, stateBooted)
			} else {
				s.bootRejects++
				if s.bootRejects >= bootRejectLimit {
					s.reply(frame.UniqueID, resp)
					s.Close("boot rejected repeatedly")
					return
				}
			}
		}
	default:
		s.state.CompareAndSwap(stateBooted, stateOperational)
	}

	s.reply(frame.UniqueID, resp)
}

func (s *session) reply(uniqueID string, payload interface{}) {
	data, err := MarshalCallResult(uniqueID, payload)
	if err != nil {
		s.log.Error("failed to marshal call result", zap.Error(err))
		return
	}
	if err := s.write(data); err != nil {
		s.log.Warn("failed to write call result", zap.Error(err))
	}
}

func (s *session) replyError(uniqueID, code, description string) {
	telemetry.OCPPCallErrors.WithLabelValues(code).Inc()
	data, err := MarshalCallError(uniqueID, code, description)
	if err != nil {
		return
	}
	if err := s.write(data); err != nil {
		s.log.Warn("failed to write call error", zap.Error(err))
	}
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) callTimeout() time.Duration {
	if s.server.cfg.CallTimeout > 0 {
		return s.server.cfg.CallTimeout
	}
	return 30 * time.Second
}

// Call sends an outbound OCPP call and waits for the correlated reply.
func (s *session) Call(ctx context.Context, action string, payload interface{}) (json.RawMessage, error) {
	uniqueID := uuid.NewString()
	data, err := MarshalCall(uniqueID, action, payload)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "failed to marshal call", err)
	}

	waiter := s.pending.register(uniqueID)
	start := time.Now()
	if err := s.write(data); err != nil {
		s.pending.remove(uniqueID)
		return nil, domain.WrapError(domain.KindStationUnavailable, "station write failed", err)
	}
	telemetry.OCPPMessagesTotal.WithLabelValues(action, "outbound").Inc()

	timer := time.NewTimer(s.callTimeout())
	defer timer.Stop()

	select {
	case outcome := <-waiter:
		telemetry.OCPPCallDuration.Observe(time.Since(start).Seconds())
		if outcome.errCode != "" {
			return nil, domain.Errorf(domain.KindStationUnavailable, "station rejected %s: %s (%s)", action, outcome.errCode, outcome.errDesc)
		}
		return outcome.payload, nil
	case <-timer.C:
		s.pending.remove(uniqueID)
		return nil, domain.Errorf(domain.KindTimeout, "station did not answer %s within %s", action, s.callTimeout())
	case <-ctx.Done():
		s.pending.remove(uniqueID)
		return nil, domain.WrapError(domain.KindTimeout, "call canceled", ctx.Err())
	case <-s.done:
		s.pending.remove(uniqueID)
		return nil, domain.NewError(domain.KindStationUnavailable, "station session closed")
	}
}
