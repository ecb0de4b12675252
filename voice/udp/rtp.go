package udp

import "github.com/pion/rtp"

// PayloadTypeOpus is the RTP payload type the voice node expects.
const PayloadTypeOpus = 0x78

// HeaderSize is the size of the fixed RTP header: version 2, no padding, no
// extension, no CSRC.
const HeaderSize = 12

// MarshalHeader packs the fixed 12-byte RTP header into buf.
func MarshalHeader(buf []byte, sequence uint16, timestamp, ssrc uint32) error {
	h := rtp.Header{
		Version:        2,
		PayloadType:    PayloadTypeOpus,
		SequenceNumber: sequence,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}

	_, err := h.MarshalTo(buf)
	return err
}
