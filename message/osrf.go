package message

import (
	"bytes"
	"encoding/json"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// Type discriminates an OSRFMessage's payload, per spec.md §3.
type Type string

const (
	TypeConnect    Type = "CONNECT"
	TypeRequest    Type = "REQUEST"
	TypeResult     Type = "RESULT"
	TypeStatus     Type = "STATUS"
	TypeDisconnect Type = "DISCONNECT"
)

// StatusCode is the HTTP-like triplet carried by a STATUS message. Exact
// integer values are part of the wire contract (spec.md §3).
type StatusCode int

const (
	StatusContinue            StatusCode = 100
	StatusOK                  StatusCode = 200
	StatusAccepted            StatusCode = 202
	StatusComplete            StatusCode = 205
	StatusRedirected          StatusCode = 307
	StatusBadRequest          StatusCode = 400
	StatusUnauthorized        StatusCode = 401
	StatusForbidden           StatusCode = 403
	StatusNotFound            StatusCode = 404
	StatusNotAllowed          StatusCode = 405
	StatusTimeout             StatusCode = 408
	StatusExpFailed           StatusCode = 417
	StatusInternalServerError StatusCode = 500
	StatusNotImplemented      StatusCode = 501
	StatusVersionNotSupported StatusCode = 505
)

var statusNames = map[StatusCode]string{
	StatusContinue:            "CONTINUE",
	StatusOK:                  "OK",
	StatusAccepted:            "ACCEPTED",
	StatusComplete:            "COMPLETE",
	StatusRedirected:          "REDIRECTED",
	StatusBadRequest:          "BADREQUEST",
	StatusUnauthorized:        "UNAUTHORIZED",
	StatusForbidden:           "FORBIDDEN",
	StatusNotFound:            "NOTFOUND",
	StatusNotAllowed:          "NOTALLOWED",
	StatusTimeout:             "TIMEOUT",
	StatusExpFailed:           "EXPFAILED",
	StatusInternalServerError: "INTERNALSERVERERROR",
	StatusNotImplemented:      "NOTIMPLEMENTED",
	StatusVersionNotSupported: "VERSIONNOTSUPPORTED",
}

// Name returns the short constant name for a status code, or "UNKNOWN".
func (c StatusCode) Name() string {
	if n, ok := statusNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsTerminal reports whether a request carrying this status should be
// considered complete: anything but CONTINUE (spec.md §4.3 step 3).
func (c StatusCode) IsTerminal() bool {
	return c != StatusContinue
}

// IsException reports whether this status represents a failure (code >=
// 300, since 205 COMPLETE and below are the successful terminal codes).
func (c StatusCode) IsException() bool {
	return c >= 300
}

// RequestPayload is the REQUEST payload: a method name and its JSON params.
// Numeric values inside Params decode as json.Number rather than float64
// (spec.md §4.2: "Numbers are stored and transmitted as strings to preserve
// precision beyond double"), so a 19-digit ID round-trips intact instead of
// losing precision through Go's default float64 JSON numbers.
type RequestPayload struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// ResultPayload is the RESULT payload: arbitrary JSON content. Like
// RequestPayload.Params, numbers inside Content decode as json.Number.
type ResultPayload struct {
	Content any `json:"-"`
}

// StatusPayload is the STATUS payload.
type StatusPayload struct {
	Code        StatusCode `json:"statusCode"`
	Status      string     `json:"status"`
	StatusName  string     `json:"statusName"`
	IsException bool       `json:"-"`
}

// OSRFMessage is the typed RPC payload carried inside a TransportMessage's
// Body, per spec.md §3 and §4.2.
type OSRFMessage struct {
	ThreadTrace int64
	Type        Type
	Protocol    int
	Locale      string
	TZ          string

	Request    *RequestPayload
	Result     *ResultPayload
	Status     *StatusPayload
}

type osrfMessageWire struct {
	ThreadTrace int64           `json:"threadTrace"`
	Type        Type            `json:"type"`
	Protocol    int             `json:"protocol"`
	Locale      string          `json:"locale,omitempty"`
	TZ          string          `json:"tz,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a REQUEST OSRFMessage.
func NewRequest(threadTrace int64, method string, params []any) OSRFMessage {
	return OSRFMessage{
		ThreadTrace: threadTrace,
		Type:        TypeRequest,
		Protocol:    1,
		Request:     &RequestPayload{Method: method, Params: params},
	}
}

// NewResult builds a RESULT OSRFMessage.
func NewResult(threadTrace int64, content any) OSRFMessage {
	return OSRFMessage{
		ThreadTrace: threadTrace,
		Type:        TypeResult,
		Protocol:    1,
		Result:      &ResultPayload{Content: content},
	}
}

// NewStatus builds a STATUS OSRFMessage.
func NewStatus(threadTrace int64, code StatusCode, text string) OSRFMessage {
	return OSRFMessage{
		ThreadTrace: threadTrace,
		Type:        TypeStatus,
		Protocol:    1,
		Status: &StatusPayload{
			Code:        code,
			Status:      text,
			StatusName:  code.Name(),
			IsException: code.IsException(),
		},
	}
}

// NewConnect builds a CONNECT OSRFMessage.
func NewConnect(threadTrace int64) OSRFMessage {
	return OSRFMessage{ThreadTrace: threadTrace, Type: TypeConnect, Protocol: 1}
}

// NewDisconnect builds a DISCONNECT OSRFMessage.
func NewDisconnect(threadTrace int64) OSRFMessage {
	return OSRFMessage{ThreadTrace: threadTrace, Type: TypeDisconnect, Protocol: 1}
}

// MarshalJSON implements json.Marshaler, producing the {"__c":"osrfMessage",
// "__p": {...}} wire form described in spec.md §6.
func (m OSRFMessage) MarshalJSON() ([]byte, error) {
	w := osrfMessageWire{
		ThreadTrace: m.ThreadTrace,
		Type:        m.Type,
		Protocol:    m.Protocol,
		Locale:      m.Locale,
		TZ:          m.TZ,
	}

	switch m.Type {
	case TypeRequest:
		if m.Request == nil {
			return nil, errors.New("REQUEST message missing its payload")
		}
		payload, err := json.Marshal(m.Request)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal REQUEST payload")
		}
		w.Payload = payload
	case TypeResult:
		if m.Result == nil {
			return nil, errors.New("RESULT message missing its payload")
		}
		payload, err := json.Marshal(m.Result.Content)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal RESULT payload")
		}
		w.Payload = payload
	case TypeStatus:
		if m.Status == nil {
			return nil, errors.New("STATUS message missing its payload")
		}
		payload, err := json.Marshal(m.Status)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal STATUS payload")
		}
		w.Payload = payload
	case TypeConnect, TypeDisconnect:
		// no payload
	default:
		return nil, errors.New("unknown OSRF message type %q", m.Type)
	}

	return json.Marshal(Tagged{Class: ClassOSRFMessage, Payload: mustMarshal(w)})
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// decodeNumberPreserving decodes data into v the way json.Unmarshal would,
// except that a json.Decoder with UseNumber is used so that any number
// landing in an any-typed field (RequestPayload.Params, ResultPayload.Content)
// comes back as a json.Number instead of Go's default lossy float64 — per
// spec.md §4.2's precision-beyond-double requirement.
func decodeNumberPreserving(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *OSRFMessage) UnmarshalJSON(data []byte) error {
	var w osrfMessageWire
	if err := DecodeTagged(data, ClassOSRFMessage, &w); err != nil {
		return err
	}

	m.ThreadTrace = w.ThreadTrace
	m.Type = w.Type
	m.Protocol = w.Protocol
	m.Locale = w.Locale
	m.TZ = w.TZ
	m.Request = nil
	m.Result = nil
	m.Status = nil

	switch w.Type {
	case TypeRequest:
		var p RequestPayload
		if err := decodeNumberPreserving(w.Payload, &p); err != nil {
			return errors.Mark(errors.Wrapf(err, "decode REQUEST payload"), errors.KindProtocol)
		}
		m.Request = &p
	case TypeResult:
		var content any
		if len(w.Payload) > 0 {
			if err := decodeNumberPreserving(w.Payload, &content); err != nil {
				return errors.Mark(errors.Wrapf(err, "decode RESULT payload"), errors.KindProtocol)
			}
		}
		m.Result = &ResultPayload{Content: content}
	case TypeStatus:
		var p StatusPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return errors.Mark(errors.Wrapf(err, "decode STATUS payload"), errors.KindProtocol)
		}
		p.IsException = p.Code.IsException()
		m.Status = &p
	case TypeConnect, TypeDisconnect:
		// no payload
	default:
		return errors.Mark(errors.New("unknown OSRF message type %q", w.Type), errors.KindProtocol)
	}

	return nil
}

// EncodeBatch serializes an ordered list of OSRFMessages into the JSON
// array string a TransportMessage carries as its Body (spec.md §4.2).
func EncodeBatch(msgs []OSRFMessage) (string, error) {
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", errors.Wrapf(err, "encode osrf message batch")
	}
	return string(b), nil
}

// DecodeBatch parses a TransportMessage's Body back into an ordered list of
// OSRFMessages. One transport message commonly carries several — e.g. a
// batched RESULT followed by its terminal STATUS.
func DecodeBatch(body string) ([]OSRFMessage, error) {
	if body == "" {
		return nil, nil
	}
	var msgs []OSRFMessage
	if err := json.Unmarshal([]byte(body), &msgs); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode osrf message batch"), errors.KindProtocol)
	}
	return msgs, nil
}
