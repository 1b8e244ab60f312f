package message

import (
	"encoding/json"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// MaxThreadLength is the wire contract limit on thread and xid strings
// (spec.md §3, §6).
const MaxThreadLength = 64

// TransportMessage is one bus packet (spec.md §3, §6). It is immutable
// once enqueued for send; callers should treat a sent TransportMessage as
// read-only afterward.
type TransportMessage struct {
	Recipient string `json:"to"`
	Sender    string `json:"from"`
	Thread    string `json:"thread"`
	OSRFXid   string `json:"osrf_xid,omitempty"`

	RouterFrom    string `json:"router_from,omitempty"`
	RouterTo      string `json:"router_to,omitempty"`
	RouterClass   string `json:"router_class,omitempty"`
	RouterCommand string `json:"router_command,omitempty"`
	Broadcast     bool   `json:"broadcast,omitempty"`

	Body string `json:"body"`

	IsError   bool   `json:"is_error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// Validate checks the wire-contract invariants that apply to every
// TransportMessage (spec.md §3): thread and osrf_xid length, and a
// non-empty recipient. Sender is not checked.
func (m *TransportMessage) Validate() error {
	if len(m.Thread) > MaxThreadLength {
		return errors.Mark(errors.New("thread %q exceeds %d characters", m.Thread, MaxThreadLength), errors.KindProtocol)
	}
	if len(m.OSRFXid) > MaxThreadLength {
		return errors.Mark(errors.New("osrf_xid %q exceeds %d characters", m.OSRFXid, MaxThreadLength), errors.KindProtocol)
	}
	if m.Recipient == "" {
		return errors.Mark(errors.New("transport message missing recipient"), errors.KindProtocol)
	}
	return nil
}

// Encode marshals the transport message to its JSON wire form.
func (m TransportMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "encode transport message")
	}
	return b, nil
}

// DecodeTransportMessage parses a bus packet.
func DecodeTransportMessage(data []byte) (*TransportMessage, error) {
	var m TransportMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode transport message"), errors.KindProtocol)
	}
	return &m, nil
}

// SetMessages JSON-encodes msgs and stores them as the transport message's
// Body, per the three-layer serialization in spec.md §4.2.
func (m *TransportMessage) SetMessages(msgs []OSRFMessage) error {
	body, err := EncodeBatch(msgs)
	if err != nil {
		return err
	}
	m.Body = body
	return nil
}

// Messages decodes the transport message's Body into its ordered list of
// OSRFMessages.
func (m *TransportMessage) Messages() ([]OSRFMessage, error) {
	return DecodeBatch(m.Body)
}

// NewTransportMessage is a convenience constructor bundling SetMessages and
// Validate: it builds a transport message carrying msgs as its Body.
func NewTransportMessage(recipient, sender, thread, xid string, msgs []OSRFMessage) (*TransportMessage, error) {
	m := &TransportMessage{
		Recipient: recipient,
		Sender:    sender,
		Thread:    thread,
		OSRFXid:   xid,
	}
	if err := m.SetMessages(msgs); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
