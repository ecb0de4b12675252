// Package udp holds the voice UDP connection: the IP discovery exchange run
// right after dialing, and the paced, encrypted RTP send path.
package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/solunet/waveform/voice/crypt"
)

// Dialer is the default dialer that this package uses for all its dialing.
var Dialer = net.Dialer{
	Timeout: 10 * time.Second,
}

// ErrClosed is returned if a Write was called on a closed connection.
var ErrClosed = errors.New("UDP connection closed")

// timestampIncrement is the number of 48kHz samples per 20ms Opus frame.
const timestampIncrement = 960

// discoverySize is the size of both IP discovery datagrams.
const discoverySize = 74

// Connection is a voice UDP connection. After the discovery exchange it is
// write-only; no further inbound datagrams are interpreted.
type Connection struct {
	// ExternalIP and ExternalPort are this machine's address as seen by the
	// voice node, learned through IP discovery.
	ExternalIP   string
	ExternalPort uint16

	mutex chan struct{} // for ctx

	context context.Context
	conn    net.Conn
	ssrc    uint32

	frequency *rate.Limiter
	header    [HeaderSize]byte
	encrypt   crypt.EncryptFunc

	sequence  uint16
	timestamp uint32
}

// DialConnection dials the voice node's UDP address and runs the IP discovery
// exchange before returning.
func DialConnection(ctx context.Context, addr string, ssrc uint32) (*Connection, error) {
	conn, err := Dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial host")
	}

	ip, port, err := discover(ctx, conn, ssrc)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Connection{
		ExternalIP:   ip,
		ExternalPort: port,
		// 50 sends per second, 960 samples each at 48kHz.
		frequency: rate.NewLimiter(rate.Every(20*time.Millisecond), 1),
		context:   context.Background(),
		mutex:     make(chan struct{}, 1),
		ssrc:      ssrc,
		conn:      conn,
	}, nil
}

// discover runs the IP discovery request/response exchange.
//
// https://discord.com/developers/docs/topics/voice-connections#ip-discovery
func discover(ctx context.Context, conn net.Conn, ssrc uint32) (string, uint16, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	var request [discoverySize]byte
	binary.BigEndian.PutUint16(request[0:2], 0x0001)
	binary.BigEndian.PutUint16(request[2:4], 70)
	binary.BigEndian.PutUint32(request[4:8], ssrc)

	if _, err := conn.Write(request[:]); err != nil {
		return "", 0, errors.Wrap(err, "failed to write discovery request")
	}

	var response [discoverySize]byte
	if _, err := io.ReadFull(conn, response[:]); err != nil {
		return "", 0, errors.Wrap(err, "failed to read discovery response")
	}

	if response[1] != 0x02 {
		return "", 0, errors.New("discovery response is not a response packet")
	}

	body := response[8 : discoverySize-2]

	nullPos := bytes.IndexByte(body, 0)
	if nullPos < 0 {
		return "", 0, errors.New("discovery response did not contain a null terminator")
	}

	ip := string(body[:nullPos])
	port := binary.BigEndian.Uint16(response[discoverySize-2:])

	return ip, port, nil
}

// UseSecret installs the session key and the negotiated encryption mode. This
// method is not thread-safe, so it should only be used right after the
// session description arrives.
func (c *Connection) UseSecret(secret []byte, mode string) error {
	suite, err := crypt.New(secret)
	if err != nil {
		return err
	}

	fn, ok := suite.Encryptor(mode)
	if !ok {
		return crypt.ErrModeNotSupported
	}

	c.encrypt = fn
	return nil
}

// UseContext lets the connection use the given context for its Write method.
// WriteCtx will override this context.
func (c *Connection) UseContext(ctx context.Context) error {
	c.mutex <- struct{}{}
	defer func() { <-c.mutex }()

	return c.useContext(ctx)
}

func (c *Connection) useContext(ctx context.Context) error {
	if c.conn == nil {
		return ErrClosed
	}

	if c.context == ctx {
		return nil
	}

	c.context = ctx

	if deadline, ok := c.context.Deadline(); ok {
		return c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.SetWriteDeadline(time.Time{})
}

// Sequence is the RTP sequence number of the next packet.
func (c *Connection) Sequence() uint16 { return c.sequence }

// Timestamp is the RTP timestamp of the next packet.
func (c *Connection) Timestamp() uint32 { return c.timestamp }

// SSRC is the synchronization source the voice node allocated.
func (c *Connection) SSRC() uint32 { return c.ssrc }

// Close closes the connection. Further writes return ErrClosed. It is safe to
// call more than once.
func (c *Connection) Close() error {
	c.mutex <- struct{}{}
	defer func() { <-c.mutex }()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

// Write seals one Opus frame into an RTP packet and sends it, pacing sends to
// one per 20ms. It is made to be stream-compatible: the internal frequency
// clock will slow Write down to match the real playback time.
func (c *Connection) Write(b []byte) (int, error) {
	select {
	case c.mutex <- struct{}{}:
		defer func() { <-c.mutex }()
	case <-c.context.Done():
		return 0, c.context.Err()
	}

	if c.conn == nil {
		return 0, ErrClosed
	}

	return c.write(b)
}

// WriteCtx sends one Opus frame with a timeout.
func (c *Connection) WriteCtx(ctx context.Context, b []byte) (int, error) {
	select {
	case c.mutex <- struct{}{}:
		defer func() { <-c.mutex }()
	case <-c.context.Done():
		return 0, c.context.Err()
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	if c.conn == nil {
		return 0, ErrClosed
	}

	if err := c.useContext(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to use context")
	}

	return c.write(b)
}

// write is thread-unsafe.
func (c *Connection) write(b []byte) (int, error) {
	if c.encrypt == nil {
		return 0, errors.New("no session key installed")
	}

	if err := MarshalHeader(c.header[:], c.sequence, c.timestamp, c.ssrc); err != nil {
		return 0, errors.Wrap(err, "failed to marshal RTP header")
	}

	packet, err := c.encrypt(c.header[:], b)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encrypt packet")
	}

	c.sequence++                      // wraps mod 2^16
	c.timestamp += timestampIncrement // wraps mod 2^32

	if err := c.frequency.Wait(c.context); err != nil {
		return 0, errors.Wrap(err, "failed to wait for frequency tick")
	}

	if _, err := c.conn.Write(packet); err != nil {
		return 0, errors.Wrap(err, "failed to write to UDP connection")
	}

	// We're not really returning everything, since we're sealing the bytes.
	return len(b), nil
}
