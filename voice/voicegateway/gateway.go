// Package voicegateway implements the voice gateway WebSocket session: the
// IDENTIFY handshake, opcode dispatch, and the heartbeat loop with sequence
// acknowledgement.
package voicegateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/solunet/waveform/discord"
	"github.com/solunet/waveform/utils/json"
	"github.com/solunet/waveform/utils/moreatomic"
	"github.com/solunet/waveform/utils/wsutil"
)

// Version is the voice gateway version this package speaks.
const Version = "8"

// State contains the identity of a voice gateway connection.
type State struct {
	GuildID   discord.GuildID
	ChannelID discord.ChannelID
	UserID    discord.UserID

	SessionID string
	Token     string
	Endpoint  string
}

// Gateway is a single voice gateway WebSocket connection.
type Gateway struct {
	state State // constant

	mutex       sync.RWMutex
	ready       ReadyEvent
	sessionDesc SessionDescriptionEvent

	// sequence is the last seen server sequence, or -1. Atomic.
	sequence int64

	ws *wsutil.Websocket

	Timeout time.Duration

	// Pacemaker drives the heartbeat loop once HELLO arrives. Guarded by
	// mutex; it is written from the event loop.
	Pacemaker *wsutil.Pacemaker

	// ErrorLog will be called when an error occurs (defaults to log.Println).
	ErrorLog func(err error)
	// AfterClose is called after each close, with the error that took the
	// connection down, or nil on a graceful close. (defaults to noop)
	AfterClose func(err error)

	running moreatomic.Bool

	helloCh       chan struct{}
	readyCh       chan struct{}
	sessionDescCh chan struct{}

	// Filled by methods, internal use
	waitGroup *sync.WaitGroup
	paceDeath chan error
}

func New(state State) *Gateway {
	return &Gateway{
		state:      state,
		sequence:   -1,
		Timeout:    wsutil.WSTimeout,
		ErrorLog:   wsutil.WSError,
		AfterClose: func(error) {},

		helloCh:       make(chan struct{}, 1),
		readyCh:       make(chan struct{}, 1),
		sessionDescCh: make(chan struct{}, 1),
	}
}

// Ready returns the last received READY payload.
func (c *Gateway) Ready() ReadyEvent {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.ready
}

// Latency is the duration between the last heartbeat and its acknowledgement.
func (c *Gateway) Latency() time.Duration {
	c.mutex.RLock()
	pm := c.Pacemaker
	c.mutex.RUnlock()

	if pm == nil {
		return 0
	}
	return pm.Latency()
}

// Addr builds the WebSocket URL from the endpoint the main gateway handed
// over. An endpoint that already carries a scheme is used as-is.
func (c *Gateway) Addr() string {
	if strings.Contains(c.state.Endpoint, "://") {
		return c.state.Endpoint + "/?v=" + Version
	}
	return "wss://" + strings.TrimSuffix(c.state.Endpoint, ":80") + "/?v=" + Version
}

// OpenCtx dials the voice gateway, identifies, and blocks until both HELLO
// and READY have arrived. The two may arrive in either order.
func (c *Gateway) OpenCtx(ctx context.Context) error {
	addr := c.Addr()

	wsutil.WSDebug("Connecting to voice endpoint (endpoint=" + addr + ")")
	c.ws = wsutil.New(addr)

	if err := c.ws.Dial(ctx); err != nil {
		return errors.Wrap(err, "failed to connect to voice gateway")
	}

	wsutil.WSDebug("Trying to start...")

	if err := c.start(ctx); err != nil {
		wsutil.WSDebug("Start failed: ", err)

		if err := c.Close(); err != nil {
			wsutil.WSDebug("Failed to close after start fail: ", err)
		}
		return err
	}

	return nil
}

func (c *Gateway) start(ctx context.Context) error {
	// Make a new WaitGroup for use in background loops:
	c.waitGroup = new(sync.WaitGroup)
	c.running.Set(true)

	ch := c.ws.Listen()

	// The voice gateway expects an IDENTIFY right away; HELLO and READY then
	// arrive in no guaranteed order.
	if err := c.IdentifyCtx(ctx); err != nil {
		return errors.Wrap(err, "failed to identify")
	}

	c.waitGroup.Add(1)
	go c.handleWS(ch)

	wsutil.WSDebug("Waiting for Hello and Ready..")

	var gotHello, gotReady bool
	for !gotHello || !gotReady {
		select {
		case <-c.helloCh:
			gotHello = true
		case <-c.readyCh:
			gotReady = true
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "failed to wait for Hello and Ready")
		}
	}

	wsutil.WSDebug("Started successfully.")

	return nil
}

func (c *Gateway) handleWS(ch <-chan wsutil.Event) {
	err := c.eventLoop(ch)
	c.waitGroup.Done() // mark so Close() can exit.
	wsutil.WSDebug("Event loop stopped.")

	if err != nil && c.running.Get() {
		c.ErrorLog(err)
		c.AfterClose(err)
	}
}

func (c *Gateway) eventLoop(ch <-chan wsutil.Event) error {
	for {
		select {
		case err := <-c.paceDeath:
			// Got a paceDeath, we're exiting from here on out.
			c.paceDeath = nil // mark

			if err == nil {
				wsutil.WSDebug("Pacemaker stopped without errors.")
				return nil
			}

			return errors.Wrap(err, "pacemaker died")

		case ev, ok := <-ch:
			if !ok {
				return nil
			}

			op, err := wsutil.DecodeOP(json.Default, ev)
			if err != nil {
				return errors.Wrap(err, "WS handler error")
			}

			// Remember the server sequence for heartbeat acknowledgement.
			if op.Sequence != nil {
				atomic.StoreInt64(&c.sequence, *op.Sequence)
			}

			if err := c.handleOP(op); err != nil {
				c.ErrorLog(err)
			}
		}
	}
}

// startPacemaker runs on the event loop goroutine, which is also the only
// reader of paceDeath.
func (c *Gateway) startPacemaker(heartrate time.Duration) {
	pm := &wsutil.Pacemaker{
		Heartrate: heartrate,
		Pace:      c.Heartbeat,
	}

	c.mutex.Lock()
	c.Pacemaker = pm
	c.mutex.Unlock()

	// Pacemaker dies into the event loop, only when it's fatal.
	c.paceDeath = pm.StartAsync(c.waitGroup)
}

// SessionDescriptionCtx sends a SELECT_PROTOCOL with the given transport data
// and waits for the voice node's SESSION_DESCRIPTION reply.
func (c *Gateway) SessionDescriptionCtx(
	ctx context.Context, sp SelectProtocol) (*SessionDescriptionEvent, error) {

	if err := c.SelectProtocolCtx(ctx, sp); err != nil {
		return nil, err
	}

	select {
	case <-c.sessionDescCh:
		c.mutex.RLock()
		d := c.sessionDesc
		c.mutex.RUnlock()
		return &d, nil

	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "failed to wait for session description")
	}
}

// Close stops the heartbeat loop and closes the WebSocket. It is safe to call
// more than once; later calls close nothing and only run AfterClose(nil).
func (c *Gateway) Close() error {
	if !c.running.CAS(true, false) {
		wsutil.WSDebug("Gateway is already closed.")

		c.AfterClose(nil)
		return nil
	}

	c.mutex.RLock()
	pm := c.Pacemaker
	c.mutex.RUnlock()

	if pm != nil {
		wsutil.WSDebug("Stopping pacemaker...")
		pm.Stop()
		wsutil.WSDebug("Stopped pacemaker.")
	}

	var err error
	if c.ws != nil {
		wsutil.WSDebug("Closing the websocket...")
		err = c.ws.Close(nil)
	}

	if c.waitGroup != nil {
		wsutil.WSDebug("Waiting for WaitGroup to be done.")
		c.waitGroup.Wait()
		c.waitGroup = nil
	}

	wsutil.WSDebug("WaitGroup is done.")
	c.AfterClose(nil)
	return err
}

// Send sends a payload with the given opcode to the voice gateway.
func (c *Gateway) Send(code OPCode, v interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	return c.SendCtx(ctx, code, v)
}

// SendCtx sends a payload with the given opcode to the voice gateway.
func (c *Gateway) SendCtx(ctx context.Context, code OPCode, v interface{}) error {
	if c.ws == nil {
		return errors.New("tried to send data to a connection without a Websocket")
	}

	var op = wsutil.OP{
		Code: code,
	}

	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to encode v")
		}

		op.Data = b
	}

	b, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}

	return c.ws.Send(ctx, b)
}
