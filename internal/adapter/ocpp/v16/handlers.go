package v16

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/csms/internal/domain"
	"github.com/evpower/csms/internal/ports"
	"github.com/evpower/csms/pkg/config"
)

const (
	bootStatusAccepted = "Accepted"
	bootStatusRejected = "Rejected"

	idTagAccepted = "Accepted"
	idTagInvalid  = "Invalid"
)

// ocppError becomes a CallError frame.
type ocppError struct {
	Code        string
	Description string
}

// Handlers dispatches station-initiated OCPP 1.6 calls to the domain services.
// One instance is shared by every session; it holds no per-station state.
type Handlers struct {
	charging  ports.ChargingService
	directory ports.StationDirectory
	registry  ports.StationRegistry
	cfg       config.OCPPConfig
	txSeq     atomic.Int64
	log       *zap.Logger
}

func NewHandlers(
	charging ports.ChargingService,
	directory ports.StationDirectory,
	registry ports.StationRegistry,
	cfg config.OCPPConfig,
	log *zap.Logger,
) *Handlers {
	h := &Handlers{
		charging:  charging,
		directory: directory,
		registry:  registry,
		cfg:       cfg,
		log:       log,
	}
	// Seed with wall time so transaction ids stay unique across restarts.
	h.txSeq.Store(time.Now().Unix())
	return h
}

// Handle routes one Call to its handler. A non-nil ocppError becomes a
// CallError frame.
func (h *Handlers) Handle(ctx context.Context, stationID, action string, payload []byte) (interface{}, *ocppError) {
	switch action {
	case "BootNotification":
		return h.bootNotification(ctx, stationID, payload)
	case "Heartbeat":
		return h.heartbeat(ctx, stationID)
	case "StatusNotification":
		return h.statusNotification(ctx, stationID, payload)
	case "Authorize":
		return h.authorize(ctx, stationID, payload)
	case "StartTransaction":
		return h.startTransaction(ctx, stationID, payload)
	case "MeterValues":
		return h.meterValues(ctx, stationID, payload)
	case "StopTransaction":
		return h.stopTransaction(ctx, stationID, payload)
	case "DataTransfer":
		return h.dataTransfer(ctx, stationID, payload)
	case "DiagnosticsStatusNotification":
		return h.diagnosticsStatus(stationID, payload)
	case "FirmwareStatusNotification":
		return h.firmwareStatus(stationID, payload)
	default:
		return nil, &ocppError{ErrCodeNotImplemented, fmt.Sprintf("action %s not supported", action)}
	}
}

type bootNotificationReq struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber"`
	FirmwareVersion         string `json:"firmwareVersion"`
}

type bootNotificationResp struct {
	Status      string `json:"status"`
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
}

func (h *Handlers) bootNotification(ctx context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req bootNotificationReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}

	accepted, err := h.directory.HandleBoot(ctx, stationID, domain.BootInfo{
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    req.ChargePointSerialNumber,
		FirmwareVersion: req.FirmwareVersion,
	})
	if err != nil {
		h.log.Error("boot handling failed",
			zap.String("station_id", stationID),
			zap.Error(err))
		return nil, &ocppError{ErrCodeInternalError, "boot processing failed"}
	}

	status := bootStatusAccepted
	if !accepted {
		status = bootStatusRejected
	}
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = int(h.cfg.HeartbeatIntervalDuration().Seconds())
	}
	return bootNotificationResp{
		Status:      status,
		CurrentTime: time.Now().UTC().Format(time.RFC3339),
		Interval:    interval,
	}, nil
}

type heartbeatResp struct {
	CurrentTime string `json:"currentTime"`
}

func (h *Handlers) heartbeat(ctx context.Context, stationID string) (interface{}, *ocppError) {
	if err := h.directory.Heartbeat(ctx, stationID); err != nil {
		h.log.Warn("heartbeat persistence failed",
			zap.String("station_id", stationID),
			zap.Error(err))
	}
	if err := h.registry.Refresh(ctx, stationID); err != nil {
		h.log.Warn("registry refresh failed",
			zap.String("station_id", stationID),
			zap.Error(err))
	}
	return heartbeatResp{CurrentTime: time.Now().UTC().Format(time.RFC3339)}, nil
}

type statusNotificationReq struct {
	ConnectorID     int    `json:"connectorId"`
	ErrorCode       string `json:"errorCode"`
	Status          string `json:"status"`
	Info            string `json:"info"`
	Timestamp       string `json:"timestamp"`
	VendorID        string `json:"vendorId"`
	VendorErrorCode string `json:"vendorErrorCode"`
}

func (h *Handlers) statusNotification(ctx context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req statusNotificationReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}

	status := mapOCPPStatus(req.Status)
	if err := h.directory.SetConnectorStatus(ctx, stationID, req.ConnectorID, status); err != nil {
		h.log.Error("status update failed",
			zap.String("station_id", stationID),
			zap.Int("connector_id", req.ConnectorID),
			zap.Error(err))
	}

	if status == domain.StationStatusFaulted && req.ConnectorID > 0 {
		if err := h.charging.FailConnectorSession(ctx, stationID, req.ConnectorID); err != nil {
			h.log.Error("failed to stop session on faulted connector",
				zap.String("station_id", stationID),
				zap.Int("connector_id", req.ConnectorID),
				zap.Error(err))
		}
	}
	return struct{}{}, nil
}

func mapOCPPStatus(status string) domain.StationStatus {
	switch status {
	case "Available":
		return domain.StationStatusAvailable
	case "Preparing", "Charging", "SuspendedEVSE", "SuspendedEV", "Finishing", "Reserved":
		return domain.StationStatusOccupied
	case "Faulted":
		return domain.StationStatusFaulted
	case "Unavailable":
		return domain.StationStatusUnavailable
	default:
		return domain.StationStatusUnknown
	}
}

type authorizeReq struct {
	IdTag string `json:"idTag"`
}

type idTagInfo struct {
	Status string `json:"status"`
}

type authorizeResp struct {
	IdTagInfo idTagInfo `json:"idTagInfo"`
}

func (h *Handlers) authorize(ctx context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req authorizeReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}

	ok, err := h.charging.Authorize(ctx, req.IdTag)
	if err != nil {
		h.log.Warn("authorize lookup failed",
			zap.String("station_id", stationID),
			zap.String("id_tag", req.IdTag),
			zap.Error(err))
		ok = false
	}
	status := idTagInvalid
	if ok {
		status = idTagAccepted
	}
	return authorizeResp{IdTagInfo: idTagInfo{Status: status}}, nil
}

type startTransactionReq struct {
	ConnectorID   int    `json:"connectorId"`
	IdTag         string `json:"idTag"`
	MeterStart    int64  `json:"meterStart"`
	Timestamp     string `json:"timestamp"`
	ReservationID int    `json:"reservationId"`
}

type startTransactionResp struct {
	TransactionID int       `json:"transactionId"`
	IdTagInfo     idTagInfo `json:"idTagInfo"`
}

func (h *Handlers) startTransaction(ctx context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req startTransactionReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}

	txID := int(h.txSeq.Add(1))
	_, err := h.charging.AttachTransaction(ctx, stationID, req.IdTag, txID, req.MeterStart, parseOCPPTime(req.Timestamp))
	if err != nil {
		h.log.Warn("no session for started transaction",
			zap.String("station_id", stationID),
			zap.String("id_tag", req.IdTag),
			zap.Error(err))
		return startTransactionResp{TransactionID: 0, IdTagInfo: idTagInfo{Status: idTagInvalid}}, nil
	}
	return startTransactionResp{TransactionID: txID, IdTagInfo: idTagInfo{Status: idTagAccepted}}, nil
}

type sampledValue struct {
	Value     string `json:"value"`
	Measurand string `json:"measurand"`
	Unit      string `json:"unit"`
}

type meterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []sampledValue `json:"sampledValue"`
}

type meterValuesReq struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID int          `json:"transactionId"`
	MeterValue    []meterValue `json:"meterValue"`
}

func (h *Handlers) meterValues(ctx context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req meterValuesReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}

	samples := make([]domain.MeterSample, 0, len(req.MeterValue))
	for _, mv := range req.MeterValue {
		ts := parseOCPPTime(mv.Timestamp)
		for _, sv := range mv.SampledValue {
			// An absent measurand means the energy register per OCPP 1.6.
			if sv.Measurand != "" && sv.Measurand != "Energy.Active.Import.Register" {
				continue
			}
			wh, err := parseEnergyWh(sv.Value, sv.Unit)
			if err != nil {
				h.log.Warn("unparseable meter sample",
					zap.String("station_id", stationID),
					zap.String("value", sv.Value),
					zap.Error(err))
				continue
			}
			samples = append(samples, domain.MeterSample{
				Timestamp: ts,
				MeterWh:   wh,
				Measurand: "Energy.Active.Import.Register",
				Unit:      "Wh",
			})
		}
	}

	if len(samples) > 0 {
		if err := h.charging.RecordMeterValues(ctx, stationID, req.TransactionID, samples); err != nil {
			switch domain.KindOf(err) {
			case domain.KindNotFound, domain.KindConflict:
				return nil, &ocppError{ErrCodeInternalError, "no active transaction for meter values"}
			default:
				h.log.Error("meter value recording failed",
					zap.String("station_id", stationID),
					zap.Int("transaction_id", req.TransactionID),
					zap.Error(err))
			}
		}
	}
	return struct{}{}, nil
}

func parseEnergyWh(value, unit string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(unit, "kWh") {
		v *= 1000
	}
	return int64(math.Round(v)), nil
}

type stopTransactionReq struct {
	TransactionID int    `json:"transactionId"`
	MeterStop     int64  `json:"meterStop"`
	Timestamp     string `json:"timestamp"`
	Reason        string `json:"reason"`
	IdTag         string `json:"idTag"`
}

type stopTransactionResp struct {
	IdTagInfo idTagInfo `json:"idTagInfo"`
}

func (h *Handlers) stopTransaction(ctx context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req stopTransactionReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}

	_, err := h.charging.CompleteSession(ctx, stationID, req.TransactionID, req.MeterStop, req.Reason, parseOCPPTime(req.Timestamp))
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindNotFound, domain.KindConflict:
			return nil, &ocppError{ErrCodeInternalError, "no settleable transaction"}
		default:
			h.log.Error("settlement failed",
				zap.String("station_id", stationID),
				zap.Int("transaction_id", req.TransactionID),
				zap.Error(err))
			return nil, &ocppError{ErrCodeInternalError, "settlement failed"}
		}
	}
	return stopTransactionResp{IdTagInfo: idTagInfo{Status: idTagAccepted}}, nil
}

type dataTransferReq struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId"`
	Data      string `json:"data"`
}

type dataTransferResp struct {
	Status string `json:"status"`
}

func (h *Handlers) dataTransfer(_ context.Context, stationID string, payload []byte) (interface{}, *ocppError) {
	var req dataTransferReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}
	h.log.Info("data transfer",
		zap.String("station_id", stationID),
		zap.String("vendor_id", req.VendorID),
		zap.String("message_id", req.MessageID))
	return dataTransferResp{Status: "Accepted"}, nil
}

type statusOnlyReq struct {
	Status string `json:"status"`
}

func (h *Handlers) diagnosticsStatus(stationID string, payload []byte) (interface{}, *ocppError) {
	var req statusOnlyReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}
	h.log.Info("diagnostics status",
		zap.String("station_id", stationID),
		zap.String("status", req.Status))
	return struct{}{}, nil
}

func (h *Handlers) firmwareStatus(stationID string, payload []byte) (interface{}, *ocppError) {
	var req statusOnlyReq
	if ocppErr := unmarshalPayload(payload, &req); ocppErr != nil {
		return nil, ocppErr
	}
	h.log.Info("firmware status",
		zap.String("station_id", stationID),
		zap.String("status", req.Status))
	return struct{}{}, nil
}

func unmarshalPayload(payload []byte, dst interface{}) *ocppError {
	if err := json.Unmarshal(payload, dst); err != nil {
		return &ocppError{ErrCodeFormationViolation, err.Error()}
	}
	return nil
}

func parseOCPPTime(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
