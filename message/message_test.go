package message

import (
	"encoding/json"
	"testing"
)

func TestOSRFMessageRoundTrip(t *testing.T) {
	cases := []OSRFMessage{
		NewConnect(0),
		NewRequest(1, "opensrf.math.add", []any{float64(1), float64(2)}),
		NewResult(1, float64(3)),
		NewStatus(1, StatusComplete, "Request Complete"),
		NewDisconnect(2),
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("Marshal(%v) failed: %v", want.Type, err)
		}

		var got OSRFMessage
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal failed for %s: %v", data, err)
		}

		if got.Type != want.Type || got.ThreadTrace != want.ThreadTrace {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
		switch want.Type {
		case TypeRequest:
			if got.Request == nil || got.Request.Method != want.Request.Method {
				t.Errorf("REQUEST payload mismatch: %+v vs %+v", got.Request, want.Request)
			}
		case TypeStatus:
			if got.Status == nil || got.Status.Code != want.Status.Code {
				t.Errorf("STATUS payload mismatch: %+v vs %+v", got.Status, want.Status)
			}
		}
	}
}

func TestEnvelopeHasClassTag(t *testing.T) {
	data, err := json.Marshal(NewConnect(0))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if raw["__c"] != ClassOSRFMessage {
		t.Errorf("__c = %v, want %q", raw["__c"], ClassOSRFMessage)
	}
	if _, ok := raw["__p"]; !ok {
		t.Errorf("missing __p in %s", data)
	}
}

func TestStatusCodeNames(t *testing.T) {
	cases := map[StatusCode]string{
		StatusContinue: "CONTINUE",
		StatusOK:       "OK",
		StatusComplete: "COMPLETE",
		StatusTimeout:  "TIMEOUT",
	}
	for code, name := range cases {
		if got := code.Name(); got != name {
			t.Errorf("StatusCode(%d).Name() = %q, want %q", code, got, name)
		}
	}
	if StatusContinue.IsTerminal() {
		t.Error("StatusContinue.IsTerminal() = true, want false")
	}
	if !StatusComplete.IsTerminal() {
		t.Error("StatusComplete.IsTerminal() = false, want true")
	}
	if StatusComplete.IsException() {
		t.Error("StatusComplete.IsException() = true, want false")
	}
	if !StatusInternalServerError.IsException() {
		t.Error("StatusInternalServerError.IsException() = false, want true")
	}
}

func TestBatchRoundTrip(t *testing.T) {
	msgs := []OSRFMessage{
		NewResult(1, "hello"),
		NewStatus(1, StatusComplete, "Request Complete"),
	}
	body, err := EncodeBatch(msgs)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}

	back, err := DecodeBatch(body)
	if err != nil {
		t.Fatalf("DecodeBatch failed: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("got %d messages, want 2", len(back))
	}
	if back[0].Type != TypeResult || back[1].Type != TypeStatus {
		t.Errorf("batch order/type mismatch: %+v", back)
	}
}

func TestTransportMessageRoundTrip(t *testing.T) {
	msg, err := NewTransportMessage("opensrf.math@example.com/drone-1", "client@example.com/abc", "thread-1", "xid-1",
		[]OSRFMessage{NewRequest(1, "opensrf.math.add", []any{float64(1), float64(2)})})
	if err != nil {
		t.Fatalf("NewTransportMessage failed: %v", err)
	}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	back, err := DecodeTransportMessage(data)
	if err != nil {
		t.Fatalf("DecodeTransportMessage failed: %v", err)
	}
	if back.Recipient != msg.Recipient || back.Thread != msg.Thread || back.Body != msg.Body {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, msg)
	}

	decoded, err := back.Messages()
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Request.Method != "opensrf.math.add" {
		t.Errorf("decoded messages mismatch: %+v", decoded)
	}
}

func TestResultContentPreservesPrecisionBeyondFloat64(t *testing.T) {
	// A 19-digit integer ID doesn't survive a float64 round trip; spec.md
	// §4.2 requires numbers to retain their exact wire representation.
	const bigID = "9223372036854775807"

	data, err := json.Marshal(NewResult(1, json.Number(bigID)))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got OSRFMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	n, ok := got.Result.Content.(json.Number)
	if !ok {
		t.Fatalf("Result.Content = %T(%v), want json.Number", got.Result.Content, got.Result.Content)
	}
	if n.String() != bigID {
		t.Errorf("Result.Content = %s, want %s", n.String(), bigID)
	}
}

func TestRequestParamsPreservePrecisionBeyondFloat64(t *testing.T) {
	const bigID = "9223372036854775807"

	data, err := json.Marshal(NewRequest(1, "opensrf.math.add", []any{json.Number(bigID)}))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got OSRFMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(got.Request.Params) != 1 {
		t.Fatalf("got %d params, want 1", len(got.Request.Params))
	}
	n, ok := got.Request.Params[0].(json.Number)
	if !ok {
		t.Fatalf("Params[0] = %T(%v), want json.Number", got.Request.Params[0], got.Request.Params[0])
	}
	if n.String() != bigID {
		t.Errorf("Params[0] = %s, want %s", n.String(), bigID)
	}
}

func TestTransportMessageThreadTooLong(t *testing.T) {
	m := &TransportMessage{Recipient: "a@b/c", Thread: make65CharString()}
	if err := m.Validate(); err == nil {
		t.Error("expected error for over-long thread, got nil")
	}
}

func make65CharString() string {
	b := make([]byte, 65)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
