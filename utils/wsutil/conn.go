package wsutil

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-csync"
	"nhooyr.io/websocket"

	"github.com/solunet/waveform/utils/json"
)

// WSBuffer is the size of the event channel buffer.
var WSBuffer = 12

// Event is a single inbound WebSocket frame, or the error that ended the read
// loop. Error is non-nil if Data is nil.
type Event struct {
	Data []byte

	// Error is non-nil if Data is nil.
	Error error
}

// Connection is an interface that abstracts around a generic WebSocket driver.
type Connection interface {
	// Dial dials the address (string). Context needs to be passed in for
	// timeout. This method should also be re-usable after Close is called.
	Dial(ctx context.Context, addr string) error

	// Listen returns an event channel. The channel is closed once the
	// underlying connection is gone; the last event before closing carries
	// the terminating error, if any.
	Listen() <-chan Event

	// Send sends a single frame. Writes are serialized; only one send is
	// in-flight at a time.
	Send(ctx context.Context, b []byte) error

	// Close closes the WebSocket connection. If err is nil, the connection
	// closes with a normal closure status, else with a protocol error status.
	Close(err error) error
}

// Conn is the default Connection. The voice gateway speaks JSON text frames,
// so no compression or binary handling is done.
type Conn struct {
	*websocket.Conn
	json.Driver

	writeMut csync.Mutex
	events   chan Event
}

var _ Connection = (*Conn)(nil)

func NewConn(driver json.Driver) *Conn {
	return &Conn{Driver: driver}
}

func (c *Conn) Dial(ctx context.Context, addr string) error {
	var err error

	c.Conn, _, err = websocket.Dial(ctx, addr, nil)
	return err
}

func (c *Conn) Listen() <-chan Event {
	c.events = make(chan Event, WSBuffer)
	go c.readLoop(c.events)
	return c.events
}

func (c *Conn) readLoop(ch chan Event) {
	defer close(ch)

	for {
		// No read deadline: the voice gateway may legitimately go quiet for
		// the whole heartbeat interval.
		_, b, err := c.Conn.Read(context.Background())
		if err != nil {
			ch <- Event{nil, errors.Wrap(err, "WS error")}
			return
		}

		ch <- Event{b, nil}
	}
}

func (c *Conn) Send(ctx context.Context, b []byte) error {
	// Two writers exist (heartbeat and dispatch); hold the lock for exactly
	// one frame.
	if err := c.writeMut.CLock(ctx); err != nil {
		return errors.Wrap(err, "failed to acquire send lock")
	}
	defer c.writeMut.Unlock()

	return c.Conn.Write(ctx, websocket.MessageText, b)
}

func (c *Conn) Close(err error) error {
	if c.Conn == nil {
		return nil
	}

	if err == nil {
		return c.Conn.Close(websocket.StatusNormalClosure, "")
	}

	msg := err.Error()
	if len(msg) > 125 {
		msg = msg[:125] // truncate
	}

	return c.Conn.Close(websocket.StatusProtocolError, msg)
}
