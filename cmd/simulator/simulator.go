package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const subprotocol = "ocpp1.6"

type SimulatorConfig struct {
	ServerURL       string
	StationID       string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	ConnectorCount  int
	// ChargeRateW is the simulated delivery rate used to advance the meter.
	ChargeRateW   int64
	MeterInterval time.Duration
}

// Simulator is a minimal OCPP 1.6-J charge point: it boots, heartbeats,
// reports connector status and obeys RemoteStart/RemoteStop.
type Simulator struct {
	cfg SimulatorConfig
	log *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan json.RawMessage
	charging  bool
	txID      int
	connector int
	idTag     string
	meterWh   int64

	stop chan struct{}
}

func NewSimulator(cfg SimulatorConfig, log *zap.Logger) *Simulator {
	return &Simulator{
		cfg:     cfg,
		log:     log,
		pending: make(map[string]chan json.RawMessage),
		meterWh: rand.Int63n(100000),
		stop:    make(chan struct{}),
	}
}

func (s *Simulator) Connect() error {
	endpoint := strings.TrimRight(s.cfg.ServerURL, "/") + "/" + s.cfg.StationID

	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if conn.Subprotocol() != subprotocol {
		conn.Close()
		return fmt.Errorf("server did not accept subprotocol %s", subprotocol)
	}
	s.conn = conn
	s.log.Info("connected", zap.String("endpoint", endpoint))

	go s.readLoop()
	return nil
}

// Run drives the station lifecycle until Stop is called.
func (s *Simulator) Run() error {
	resp, err := s.call("BootNotification", map[string]interface{}{
		"chargePointVendor":       s.cfg.Vendor,
		"chargePointModel":        s.cfg.Model,
		"chargePointSerialNumber": s.cfg.SerialNumber,
		"firmwareVersion":         s.cfg.FirmwareVersion,
	})
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	var boot struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	if err := json.Unmarshal(resp, &boot); err != nil {
		return err
	}
	if boot.Status != "Accepted" {
		return fmt.Errorf("boot rejected: %s", boot.Status)
	}
	s.log.Info("boot accepted", zap.Int("heartbeat_interval", boot.Interval))

	for i := 1; i <= s.cfg.ConnectorCount; i++ {
		s.sendStatus(i, "Available")
	}

	interval := time.Duration(boot.Interval) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	heartbeat := time.NewTicker(interval)
	meter := time.NewTicker(s.cfg.MeterInterval)
	defer heartbeat.Stop()
	defer meter.Stop()

	for {
		select {
		case <-s.stop:
			return nil
		case <-heartbeat.C:
			if _, err := s.call("Heartbeat", map[string]interface{}{}); err != nil {
				s.log.Warn("heartbeat failed", zap.Error(err))
			}
		case <-meter.C:
			s.tickMeter()
		}
	}
}

func (s *Simulator) Stop() {
	close(s.stop)
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		s.conn.Close()
	}
}

func (s *Simulator) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.log.Error("read failed", zap.Error(err))
			}
			return
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 3 {
			s.log.Warn("unparseable frame", zap.ByteString("data", data))
			continue
		}
		var msgType int
		var uid string
		json.Unmarshal(frame[0], &msgType)
		json.Unmarshal(frame[1], &uid)

		switch msgType {
		case 2:
			var action string
			json.Unmarshal(frame[2], &action)
			var payload json.RawMessage
			if len(frame) > 3 {
				payload = frame[3]
			}
			s.handleCall(uid, action, payload)
		case 3:
			s.resolve(uid, frame[2])
		case 4:
			var code, desc string
			json.Unmarshal(frame[2], &code)
			if len(frame) > 3 {
				json.Unmarshal(frame[3], &desc)
			}
			s.log.Warn("call error", zap.String("code", code), zap.String("description", desc))
			s.resolve(uid, nil)
		}
	}
}

func (s *Simulator) handleCall(uid, action string, payload json.RawMessage) {
	s.log.Debug("inbound call", zap.String("action", action))

	switch action {
	case "RemoteStartTransaction":
		var req struct {
			ConnectorID int    `json:"connectorId"`
			IdTag       string `json:"idTag"`
		}
		json.Unmarshal(payload, &req)
		s.reply(uid, map[string]string{"status": "Accepted"})
		go s.startCharging(req.ConnectorID, req.IdTag)
	case "RemoteStopTransaction":
		var req struct {
			TransactionID int `json:"transactionId"`
		}
		json.Unmarshal(payload, &req)
		s.reply(uid, map[string]string{"status": "Accepted"})
		go s.stopCharging("Remote")
	default:
		s.reply(uid, map[string]string{"status": "Accepted"})
	}
}

func (s *Simulator) startCharging(connectorID int, idTag string) {
	if connectorID <= 0 {
		connectorID = 1
	}

	auth, err := s.call("Authorize", map[string]string{"idTag": idTag})
	if err != nil {
		s.log.Error("authorize failed", zap.Error(err))
		return
	}
	var authResp struct {
		IdTagInfo struct {
			Status string `json:"status"`
		} `json:"idTagInfo"`
	}
	json.Unmarshal(auth, &authResp)
	if authResp.IdTagInfo.Status != "Accepted" {
		s.log.Warn("idTag not accepted", zap.String("status", authResp.IdTagInfo.Status))
		return
	}

	s.mu.Lock()
	meterStart := s.meterWh
	s.mu.Unlock()

	resp, err := s.call("StartTransaction", map[string]interface{}{
		"connectorId": connectorID,
		"idTag":       idTag,
		"meterStart":  meterStart,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error("start transaction failed", zap.Error(err))
		return
	}
	var startResp struct {
		TransactionID int `json:"transactionId"`
		IdTagInfo     struct {
			Status string `json:"status"`
		} `json:"idTagInfo"`
	}
	json.Unmarshal(resp, &startResp)
	if startResp.TransactionID <= 0 {
		s.log.Warn("server refused transaction")
		return
	}

	s.mu.Lock()
	s.charging = true
	s.txID = startResp.TransactionID
	s.connector = connectorID
	s.idTag = idTag
	s.mu.Unlock()

	s.sendStatus(connectorID, "Charging")
	s.log.Info("charging started",
		zap.Int("transaction_id", startResp.TransactionID),
		zap.Int("connector_id", connectorID))
}

func (s *Simulator) stopCharging(reason string) {
	s.mu.Lock()
	if !s.charging {
		s.mu.Unlock()
		return
	}
	s.charging = false
	txID := s.txID
	connector := s.connector
	idTag := s.idTag
	meterStop := s.meterWh
	s.mu.Unlock()

	_, err := s.call("StopTransaction", map[string]interface{}{
		"transactionId": txID,
		"idTag":         idTag,
		"meterStop":     meterStop,
		"reason":        reason,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error("stop transaction failed", zap.Error(err))
	}

	s.sendStatus(connector, "Finishing")
	s.sendStatus(connector, "Available")
	s.log.Info("charging stopped", zap.Int("transaction_id", txID), zap.String("reason", reason))
}

// tickMeter advances the meter while charging and reports the reading.
func (s *Simulator) tickMeter() {
	s.mu.Lock()
	if !s.charging {
		s.mu.Unlock()
		return
	}
	s.meterWh += s.cfg.ChargeRateW * int64(s.cfg.MeterInterval/time.Second) / 3600
	txID := s.txID
	connector := s.connector
	reading := s.meterWh
	s.mu.Unlock()

	_, err := s.call("MeterValues", map[string]interface{}{
		"connectorId":   connector,
		"transactionId": txID,
		"meterValue": []map[string]interface{}{{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"sampledValue": []map[string]string{{
				"value":     fmt.Sprintf("%d", reading),
				"measurand": "Energy.Active.Import.Register",
				"unit":      "Wh",
			}},
		}},
	})
	if err != nil {
		s.log.Warn("meter values failed", zap.Error(err))
	}
}

func (s *Simulator) sendStatus(connectorID int, status string) {
	_, err := s.call("StatusNotification", map[string]interface{}{
		"connectorId": connectorID,
		"status":      status,
		"errorCode":   "NoError",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("status notification failed", zap.Error(err))
	}
}

// call sends an OCPP call and waits for the matching result.
func (s *Simulator) call(action string, payload interface{}) (json.RawMessage, error) {
	uid := uuid.NewString()
	frame, err := json.Marshal([]interface{}{2, uid, action, payload})
	if err != nil {
		return nil, err
	}

	waiter := make(chan json.RawMessage, 1)
	s.mu.Lock()
	s.pending[uid] = waiter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, uid)
		s.mu.Unlock()
	}()

	if err := s.write(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-waiter:
		if resp == nil {
			return nil, fmt.Errorf("%s rejected by server", action)
		}
		return resp, nil
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("%s timed out", action)
	case <-s.stop:
		return nil, fmt.Errorf("simulator stopping")
	}
}

func (s *Simulator) reply(uid string, payload interface{}) {
	frame, err := json.Marshal([]interface{}{3, uid, payload})
	if err != nil {
		return
	}
	if err := s.write(frame); err != nil {
		s.log.Warn("reply failed", zap.Error(err))
	}
}

func (s *Simulator) resolve(uid string, payload json.RawMessage) {
	s.mu.Lock()
	waiter, ok := s.pending[uid]
	s.mu.Unlock()
	if ok {
		waiter <- payload
	}
}

func (s *Simulator) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}
