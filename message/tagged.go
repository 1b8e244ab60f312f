package message

import (
	"encoding/json"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// ClassOSRFMessage is the __c value every OSRFMessage is wrapped in.
const ClassOSRFMessage = "osrfMessage"

// Tagged is the project's generic "typed JSON" wrapper: any JSON object can
// carry a class name hint alongside its data. Decoding is recursive in the
// sense that any nested object using this same shape can be unwrapped the
// same way; Tagged itself only handles one level, matching how OSRFMessage
// uses it (the envelope is tagged, its payload is plain JSON).
type Tagged struct {
	Class   string
	Payload json.RawMessage
}

type taggedWire struct {
	Class   string          `json:"__c"`
	Payload json.RawMessage `json:"__p"`
}

// MarshalJSON implements json.Marshaler.
func (t Tagged) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedWire{Class: t.Class, Payload: t.Payload})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tagged) UnmarshalJSON(data []byte) error {
	var w taggedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode tagged value"), errors.KindProtocol)
	}
	t.Class = w.Class
	t.Payload = w.Payload
	return nil
}

// EncodeTagged wraps v as {"__c": class, "__p": v}.
func EncodeTagged(class string, v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal payload for class %q", class)
	}
	out, err := json.Marshal(Tagged{Class: class, Payload: payload})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal tagged class %q", class)
	}
	return out, nil
}

// DecodeTagged unwraps a {"__c", "__p"} object, checking the class matches
// wantClass, and unmarshals __p into v.
func DecodeTagged(data []byte, wantClass string, v any) error {
	var t Tagged
	if err := json.Unmarshal(data, &t); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode tagged value"), errors.KindProtocol)
	}
	if t.Class != wantClass {
		return errors.Mark(errors.New("expected class %q, got %q", wantClass, t.Class), errors.KindProtocol)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode payload for class %q", wantClass), errors.KindProtocol)
	}
	return nil
}
