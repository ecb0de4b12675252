package wsutil

import (
	"testing"

	"github.com/solunet/waveform/utils/json"
)

func TestDecodeOP(t *testing.T) {
	ev := Event{Data: []byte(`{"op":8,"d":{"heartbeat_interval":41250},"s":12}`)}

	op, err := DecodeOP(json.Default, ev)
	if err != nil {
		t.Fatal("Failed to decode:", err)
	}

	if op.Code != 8 {
		t.Fatal("Unexpected op code:", op.Code)
	}
	if op.Sequence == nil || *op.Sequence != 12 {
		t.Fatal("Sequence was not captured:", op.Sequence)
	}

	var d struct {
		HeartbeatInterval float64 `json:"heartbeat_interval"`
	}
	if err := op.UnmarshalData(&d); err != nil {
		t.Fatal("Failed to unmarshal data:", err)
	}
	if d.HeartbeatInterval != 41250 {
		t.Fatal("Unexpected interval:", d.HeartbeatInterval)
	}
}

func TestDecodeOPNoSequence(t *testing.T) {
	ev := Event{Data: []byte(`{"op":2,"d":{}}`)}

	op, err := DecodeOP(json.Default, ev)
	if err != nil {
		t.Fatal("Failed to decode:", err)
	}

	if op.Sequence != nil {
		t.Fatal("Phantom sequence:", *op.Sequence)
	}
}

func TestAssertEvent(t *testing.T) {
	ev := Event{Data: []byte(`{"op":2,"d":{"ssrc":7}}`)}

	var d struct {
		SSRC uint32 `json:"ssrc"`
	}

	if _, err := AssertEvent(json.Default, ev, 2, &d); err != nil {
		t.Fatal("Assert failed:", err)
	}
	if d.SSRC != 7 {
		t.Fatal("Unexpected SSRC:", d.SSRC)
	}

	if _, err := AssertEvent(json.Default, ev, 4, &d); err == nil {
		t.Fatal("Expected an opcode mismatch error.")
	}
}

func TestDecodeOPEmpty(t *testing.T) {
	if _, err := DecodeOP(json.Default, Event{}); err == nil {
		t.Fatal("Expected an error for an empty payload.")
	}
}
