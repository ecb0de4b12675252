package wsutil

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/solunet/waveform/utils/json"
)

// OPCode is the integer tag identifying the kind of a gateway message.
type OPCode uint8

// OP is a single gateway operation. Inbound payloads may carry a server
// sequence in s; outbound payloads never do.
type OP struct {
	Code OPCode   `json:"op"`
	Data json.Raw `json:"d,omitempty"`

	// Sequence is the optional server sequence of an inbound payload. It is
	// nil when the payload carries none.
	Sequence *int64 `json:"s,omitempty"`
}

// UnmarshalData decodes the payload's d field onto v.
func (op *OP) UnmarshalData(v interface{}) error {
	return op.Data.UnmarshalTo(v)
}

func DecodeOP(driver json.Driver, ev Event) (*OP, error) {
	if ev.Error != nil {
		return nil, ev.Error
	}

	if len(ev.Data) == 0 {
		return nil, errors.New("empty payload")
	}

	var op *OP
	if err := driver.Unmarshal(ev.Data, &op); err != nil {
		return nil, errors.Wrap(err, "OP error: "+string(ev.Data))
	}

	return op, nil
}

// AssertEvent decodes ev and unmarshals its data onto v, failing if the
// opcode isn't code.
func AssertEvent(driver json.Driver, ev Event, code OPCode, v interface{}) (*OP, error) {
	op, err := DecodeOP(driver, ev)
	if err != nil {
		return nil, err
	}

	if op.Code != code {
		return op, fmt.Errorf(
			"unexpected OP code: %d, expected %d (%s)",
			op.Code, code, op.Data,
		)
	}

	if err := op.UnmarshalData(v); err != nil {
		return op, errors.Wrap(err, "failed to decode data")
	}

	return op, nil
}
