package voice

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-csync"

	"github.com/solunet/waveform/discord"
	"github.com/solunet/waveform/utils/moreatomic"
	"github.com/solunet/waveform/utils/wsutil"
	"github.com/solunet/waveform/voice/audio"
	"github.com/solunet/waveform/voice/crypt"
	"github.com/solunet/waveform/voice/udp"
	"github.com/solunet/waveform/voice/voicegateway"
)

// WSTimeout is the duration to wait for a voice gateway operation to complete
// before erroring out. This only applies to functions that don't take in a
// context already.
var WSTimeout = 10 * time.Second

// Connection is an active connection to one guild's voice node. It owns the
// gateway session, the UDP transport and at most one player at a time.
type Connection struct {
	GuildID discord.GuildID

	// ErrorLog will be called when an error occurs (defaults to log.Println).
	ErrorLog func(err error)

	// EncoderApplication is the Opus application mode used for playbacks.
	EncoderApplication audio.Application

	// newEncoder builds the per-playback encoder.
	newEncoder func(audio.Application) (audio.Encoder, error)

	mut csync.Mutex

	state   voicegateway.State
	gateway *voicegateway.Gateway
	udpConn *udp.Connection
	mode    string

	player   *audio.Player
	playDone chan struct{}

	running moreatomic.Bool
	closed  moreatomic.Bool

	// readyToSend is closed once the session key is installed and packets
	// may flow. closeSignal is closed when the connection dies, so that
	// ready waiters don't hang on a failed handshake.
	readyToSend chan struct{}
	closeSignal chan struct{}
}

func newConnection(guildID discord.GuildID, userID discord.UserID) *Connection {
	return &Connection{
		GuildID:            guildID,
		ErrorLog:           defaultErrorHandler,
		EncoderApplication: audio.ApplicationAudio,
		newEncoder: func(app audio.Application) (audio.Encoder, error) {
			return audio.NewOpusEncoder(app)
		},
		state: voicegateway.State{
			GuildID: guildID,
			UserID:  userID,
		},
		readyToSend: make(chan struct{}),
		closeSignal: make(chan struct{}),
	}
}

// Connect runs the whole handshake against the voice node: WebSocket dial and
// IDENTIFY, waiting for HELLO and READY, encryption mode negotiation, UDP IP
// discovery, SELECT_PROTOCOL, and finally the session description that opens
// the send gate.
func (c *Connection) Connect(ctx context.Context, endpoint, sessionID, token string) error {
	if err := c.mut.CLock(ctx); err != nil {
		return errors.Wrap(err, "failed to lock connection")
	}
	defer c.mut.Unlock()

	if c.running.Get() {
		return ErrAlreadyConnected
	}
	if c.closed.Get() {
		return errors.New("connection is closed")
	}

	c.state.Endpoint = endpoint
	c.state.SessionID = sessionID
	c.state.Token = token

	gw := voicegateway.New(c.state)
	gw.ErrorLog = c.ErrorLog
	gw.AfterClose = func(err error) {
		if err != nil {
			// Fatal gateway death takes the whole connection down. Close in
			// a separate goroutine: this callback runs inside the gateway's
			// event loop, which Close waits for.
			go c.Close()
		}
	}

	if err := gw.OpenCtx(ctx); err != nil {
		return errors.Wrap(err, "failed to open voice gateway")
	}
	c.gateway = gw

	ready := gw.Ready()

	mode, err := crypt.SelectMode(ready.Modes)
	if err != nil {
		gw.Close()
		return err
	}
	c.mode = mode

	wsutil.WSDebug("Negotiated encryption mode", mode, "- discovering IP")

	udpConn, err := udp.DialConnection(ctx, ready.Addr(), ready.SSRC)
	if err != nil {
		gw.Close()
		return errors.Wrap(err, "failed to open voice UDP connection")
	}

	d, err := gw.SessionDescriptionCtx(ctx, voicegateway.SelectProtocol{
		Protocol: "udp",
		Data: voicegateway.SelectProtocolData{
			Address: udpConn.ExternalIP,
			Port:    udpConn.ExternalPort,
			Mode:    mode,
		},
	})
	if err != nil {
		udpConn.Close()
		gw.Close()
		return errors.Wrap(err, "failed to select protocol")
	}

	if err := udpConn.UseSecret(d.SecretKey[:], mode); err != nil {
		udpConn.Close()
		gw.Close()
		return err
	}

	if c.closed.Get() {
		// Closed mid-handshake; don't resurrect.
		udpConn.Close()
		gw.Close()
		return errors.New("connection is closed")
	}

	c.udpConn = udpConn
	c.running.Set(true)
	close(c.readyToSend)

	wsutil.WSDebug("Session secret key received; connection is ready to send.")

	return nil
}

// WaitReady blocks until the connection may send packets, or the context
// expires.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyToSend:
		if !c.running.Get() {
			return ErrNotConnected
		}
		return nil
	case <-c.closeSignal:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speaking tells the voice node whether we're speaking.
func (c *Connection) Speaking(flag voicegateway.SpeakingFlag) error {
	if c.gateway == nil {
		return ErrNotConnected
	}
	return c.gateway.Speaking(flag)
}

// PlayFile plays audio transcoded from the file at path. It blocks until the
// stream ends, Stop is called, or the context is canceled.
func (c *Connection) PlayFile(ctx context.Context, path string) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	return c.play(ctx, audio.NewFileSource(path))
}

// PlaySilence plays silent frames until Stop is called or the context is
// canceled; the silence source never ends on its own.
func (c *Connection) PlaySilence(ctx context.Context) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	return c.play(ctx, audio.Silence())
}

func (c *Connection) play(ctx context.Context, src audio.Source) error {
	player, err := c.swapPlayer(ctx, src)
	if err != nil {
		src.Close()
		return err
	}

	if err := c.Speaking(voicegateway.Microphone); err != nil {
		c.ErrorLog(errors.Wrap(err, "failed to send speaking"))
	}

	wsutil.WSDebug("Playing audio to the voice channel of guild", c.GuildID)

	err = player.Play(ctx, src)

	wsutil.WSDebug("Finished playing audio to the voice channel of guild", c.GuildID)

	if serr := c.Speaking(voicegateway.NotSpeaking); serr != nil {
		c.ErrorLog(errors.Wrap(serr, "failed to clear speaking"))
	}

	c.mut.Lock()
	if c.player == player {
		c.player = nil
		close(c.playDone)
		c.playDone = nil
	}
	c.mut.Unlock()

	return err
}

// swapPlayer stops and waits out the previous playback, then installs a new
// player. At most one playback is active at any instant.
func (c *Connection) swapPlayer(ctx context.Context, src audio.Source) (*audio.Player, error) {
	for {
		if err := c.mut.CLock(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to lock connection")
		}

		if !c.running.Get() || c.udpConn == nil {
			c.mut.Unlock()
			return nil, ErrNotConnected
		}

		if c.player == nil {
			enc, err := c.newEncoder(c.EncoderApplication)
			if err != nil {
				c.mut.Unlock()
				return nil, errors.Wrap(err, "failed to create encoder")
			}

			player := audio.NewPlayer(enc, c.udpConn)
			c.player = player
			c.playDone = make(chan struct{})
			c.mut.Unlock()
			return player, nil
		}

		// A playback is still running; stop it and wait for its loop to
		// observe the flag at the next frame boundary.
		c.player.Stop()
		done := c.playDone
		c.mut.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stop ends the current playback, if any. The playback loop exits at the next
// frame boundary; sequence and timestamp counters are preserved for the next
// playback.
func (c *Connection) Stop() {
	c.mut.Lock()
	if c.player != nil {
		c.player.Stop()
	}
	c.mut.Unlock()
}

// Close tears the connection down: playback, heartbeat, WebSocket, UDP. It is
// idempotent; only the first call does anything.
func (c *Connection) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}

	c.running.Set(false)
	close(c.closeSignal)

	c.Stop()

	c.mut.Lock()
	done := c.playDone
	c.mut.Unlock()
	if done != nil {
		<-done
	}

	var err error
	if c.gateway != nil {
		err = c.gateway.Close()
	}
	if c.udpConn != nil {
		if uerr := c.udpConn.Close(); uerr != nil && err == nil {
			err = uerr
		}
	}

	return err
}
