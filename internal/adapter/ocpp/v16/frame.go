package v16

import (
	"encoding/json"
	"fmt"
)

// OCPP 1.6 message types
const (
	CallMessage       = 2
	CallResultMessage = 3
	CallErrorMessage  = 4
)

// OCPP 1.6 CallError codes
const (
	ErrCodeNotImplemented     = "NotImplemented"
	ErrCodeFormationViolation = "FormationViolation"
	ErrCodeProtocolError      = "ProtocolError"
	ErrCodeInternalError      = "InternalError"
	ErrCodeGenericError       = "GenericError"
)

// Frame is one parsed OCPP 1.6-JSON message:
//
//	[2, "uid", "Action", {...}]  Call
//	[3, "uid", {...}]            CallResult
//	[4, "uid", "code", "desc", {...}]  CallError
type Frame struct {
	Type             int
	UniqueID         string
	Action           string          // Call only
	Payload          json.RawMessage // Call and CallResult
	ErrorCode        string          // CallError only
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// ParseFrame decodes a raw message. Any structural violation is an error; the
// caller decides whether to answer FormationViolation or drop the socket.
func ParseFrame(raw []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(parts) < 3 {
		return nil, fmt.Errorf("frame too short: %d elements", len(parts))
	}

	var f Frame
	if err := json.Unmarshal(parts[0], &f.Type); err != nil {
		return nil, fmt.Errorf("invalid message type: %w", err)
	}
	if err := json.Unmarshal(parts[1], &f.UniqueID); err != nil {
		return nil, fmt.Errorf("invalid unique id: %w", err)
	}
	if f.UniqueID == "" {
		return nil, fmt.Errorf("empty unique id")
	}

	switch f.Type {
	case CallMessage:
		if len(parts) < 4 {
			return nil, fmt.Errorf("call frame missing payload")
		}
		if err := json.Unmarshal(parts[2], &f.Action); err != nil {
			return nil, fmt.Errorf("invalid action: %w", err)
		}
		if f.Action == "" {
			return nil, fmt.Errorf("empty action")
		}
		f.Payload = parts[3]
	case CallResultMessage:
		f.Payload = parts[2]
	case CallErrorMessage:
		if len(parts) < 4 {
			return nil, fmt.Errorf("call error frame too short")
		}
		if err := json.Unmarshal(parts[2], &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("invalid error code: %w", err)
		}
		if err := json.Unmarshal(parts[3], &f.ErrorDescription); err != nil {
			return nil, fmt.Errorf("invalid error description: %w", err)
		}
		if len(parts) > 4 {
			f.ErrorDetails = parts[4]
		}
	default:
		return nil, fmt.Errorf("unknown message type %d", f.Type)
	}

	return &f, nil
}

func MarshalCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallMessage, uniqueID, action, payload})
}

func MarshalCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallResultMessage, uniqueID, payload})
}

func MarshalCallError(uniqueID, code, description string) ([]byte, error) {
	return json.Marshal([]interface{}{CallErrorMessage, uniqueID, code, description, map[string]string{}})
}
