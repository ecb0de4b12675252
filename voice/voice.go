// Package voice streams locally-produced audio into Discord voice channels.
// It keeps one connection per guild, fed by the two gateway events the host
// bot forwards in.
package voice

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/solunet/waveform/discord"
	"github.com/solunet/waveform/gateway"
	"github.com/solunet/waveform/utils/wsutil"
	"github.com/solunet/waveform/voice/audio"
)

// defaultErrorHandler is the default error handler.
var defaultErrorHandler = func(err error) { log.Println("voice error:", err) }

// PendingConnection is a partially-known voice node allocation for one guild.
// Its three fields are filled in by gateway events in whatever order they
// arrive; once all three are present, it is promoted into a Connection.
type PendingConnection struct {
	Endpoint  string
	SessionID string
	Token     string

	// promoted is closed when the pending entry leaves the map, whether the
	// promotion succeeded or not.
	promoted chan struct{}
}

func (p *PendingConnection) complete() bool {
	return p.Endpoint != "" && p.SessionID != "" && p.Token != ""
}

// Client is the per-process registry of voice connections, keyed by guild.
type Client struct {
	handle gateway.Handle
	userID discord.UserID

	// ErrorLog will be called when a background error occurs (defaults to
	// log.Println).
	ErrorLog func(err error)

	// EncoderApplication is the Opus application mode given to new
	// connections. Defaults to audio.ApplicationAudio.
	EncoderApplication audio.Application

	mapmutex sync.Mutex
	pending  map[discord.GuildID]*PendingConnection
	active   map[discord.GuildID]*Connection

	// connect drives a freshly promoted connection.
	connect func(ctx context.Context, conn *Connection, endpoint, sessionID, token string) error
}

// NewClient creates a voice client on top of the host bot's gateway handle.
// userID must be the bot's own user ID; it is used to tell the bot's voice
// state updates apart from everyone else's.
func NewClient(handle gateway.Handle, userID discord.UserID) *Client {
	return &Client{
		handle:             handle,
		userID:             userID,
		ErrorLog:           defaultErrorHandler,
		EncoderApplication: audio.ApplicationAudio,
		pending:            make(map[discord.GuildID]*PendingConnection),
		active:             make(map[discord.GuildID]*Connection),
		connect: func(ctx context.Context, conn *Connection, endpoint, sessionID, token string) error {
			return conn.Connect(ctx, endpoint, sessionID, token)
		},
	}
}

// Connect asks the host bot to join the given voice channel and registers a
// pending connection for the guild. The connection becomes usable once both
// gateway events have arrived.
func (c *Client) Connect(
	ctx context.Context,
	guildID discord.GuildID, channelID discord.ChannelID, mute, deaf bool) error {

	c.mapmutex.Lock()
	if _, ok := c.active[guildID]; ok {
		c.mapmutex.Unlock()
		return ErrAlreadyConnected
	}
	if _, ok := c.pending[guildID]; ok {
		c.mapmutex.Unlock()
		return ErrAlreadyConnected
	}

	c.pending[guildID] = &PendingConnection{promoted: make(chan struct{})}
	c.mapmutex.Unlock()

	err := c.handle.UpdateVoiceState(ctx, gateway.UpdateVoiceStateData{
		GuildID:   guildID,
		ChannelID: channelID,
		SelfMute:  mute,
		SelfDeaf:  deaf,
	})
	if err != nil {
		c.dropPending(guildID)
		return errors.Wrap(err, "failed to send voice state update")
	}

	wsutil.WSDebug("Joining guild", guildID, "channel", channelID)

	return nil
}

// Disconnect asks the host bot to leave the guild's voice channel and closes
// the active connection.
func (c *Client) Disconnect(ctx context.Context, guildID discord.GuildID) error {
	c.mapmutex.Lock()
	conn, ok := c.active[guildID]
	if !ok {
		c.mapmutex.Unlock()
		return ErrNotConnected
	}
	delete(c.active, guildID)
	c.mapmutex.Unlock()

	err := c.handle.UpdateVoiceState(ctx, gateway.UpdateVoiceStateData{
		GuildID:   guildID,
		ChannelID: discord.ChannelID(discord.NullSnowflake),
		SelfMute:  true,
		SelfDeaf:  true,
	})

	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}

	wsutil.WSDebug("Disconnected from guild", guildID)

	return errors.Wrap(err, "failed to disconnect")
}

// PlayFile plays the audio file at path into the guild's voice channel. It
// waits for the pending connection to finish its handshake first, and blocks
// for the whole playback.
func (c *Client) PlayFile(ctx context.Context, guildID discord.GuildID, path string) error {
	conn, err := c.waitConnection(ctx, guildID)
	if err != nil {
		return err
	}
	return conn.PlayFile(ctx, path)
}

// PlaySilence plays silent frames into the guild's voice channel until Stop
// or Disconnect.
func (c *Client) PlaySilence(ctx context.Context, guildID discord.GuildID) error {
	conn, err := c.waitConnection(ctx, guildID)
	if err != nil {
		return err
	}
	return conn.PlaySilence(ctx)
}

// Stop ends the guild's current playback, if any.
func (c *Client) Stop(guildID discord.GuildID) error {
	conn, ok := c.Connection(guildID)
	if !ok {
		return ErrNotConnected
	}
	conn.Stop()
	return nil
}

// Connection returns the guild's active connection.
func (c *Client) Connection(guildID discord.GuildID) (*Connection, bool) {
	c.mapmutex.Lock()
	defer c.mapmutex.Unlock()

	conn, ok := c.active[guildID]
	return conn, ok
}

// Close disconnects every guild and clears all state.
func (c *Client) Close() error {
	c.mapmutex.Lock()
	conns := make([]*Connection, 0, len(c.active))
	for guildID, conn := range c.active {
		conns = append(conns, conn)
		delete(c.active, guildID)
	}
	for guildID, p := range c.pending {
		close(p.promoted)
		delete(c.pending, guildID)
	}
	c.mapmutex.Unlock()

	var err error
	for _, conn := range conns {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// UpdateServer must be called with every voice server update the host bot
// receives. It fills in the endpoint and token of the guild's pending
// connection.
func (c *Client) UpdateServer(ev *gateway.VoiceServerUpdateEvent) {
	c.mapmutex.Lock()
	defer c.mapmutex.Unlock()

	p, ok := c.pending[ev.GuildID]
	if !ok {
		return
	}

	p.Endpoint = ev.Endpoint
	p.Token = ev.Token

	wsutil.WSDebug("Voice server update for guild", ev.GuildID, "- endpoint", ev.Endpoint)

	c.tryPromote(ev.GuildID)
}

// UpdateState must be called with every voice state update the host bot
// receives. Updates about other users are ignored; the bot's own state fills
// in the session ID of the guild's pending connection.
func (c *Client) UpdateState(ev *gateway.VoiceStateUpdateEvent) {
	if ev.UserID != c.userID {
		return
	}

	c.mapmutex.Lock()
	defer c.mapmutex.Unlock()

	if !ev.ChannelID.IsValid() {
		// The bot left (or was moved out of) the channel. A pending entry
		// dies before completion; an active one is closed.
		if p, ok := c.pending[ev.GuildID]; ok {
			delete(c.pending, ev.GuildID)
			close(p.promoted)
		}
		if conn, ok := c.active[ev.GuildID]; ok {
			delete(c.active, ev.GuildID)
			go func() {
				if err := conn.Close(); err != nil {
					c.ErrorLog(errors.Wrap(err, "failed to close connection"))
				}
			}()
		}
		return
	}

	p, ok := c.pending[ev.GuildID]
	if !ok {
		return
	}

	p.SessionID = ev.SessionID

	wsutil.WSDebug("Voice state update for guild", ev.GuildID, "- session", ev.SessionID)

	c.tryPromote(ev.GuildID)
}

// tryPromote promotes a completed pending entry into an active connection.
// The caller must hold mapmutex: the check and the map swap are one critical
// section, so two racing events promote exactly once.
func (c *Client) tryPromote(guildID discord.GuildID) {
	p, ok := c.pending[guildID]
	if !ok || !p.complete() {
		return
	}

	delete(c.pending, guildID)

	conn := newConnection(guildID, c.userID)
	conn.ErrorLog = c.ErrorLog
	conn.EncoderApplication = c.EncoderApplication
	c.active[guildID] = conn

	go func() {
		defer close(p.promoted)

		ctx, cancel := context.WithTimeout(context.Background(), WSTimeout)
		defer cancel()

		if err := c.connect(ctx, conn, p.Endpoint, p.SessionID, p.Token); err != nil {
			c.ErrorLog(errors.Wrap(err, "failed to connect to voice node"))

			conn.Close()

			c.mapmutex.Lock()
			if c.active[guildID] == conn {
				delete(c.active, guildID)
			}
			c.mapmutex.Unlock()
		}
	}()
}

func (c *Client) dropPending(guildID discord.GuildID) {
	c.mapmutex.Lock()
	defer c.mapmutex.Unlock()

	if p, ok := c.pending[guildID]; ok {
		delete(c.pending, guildID)
		close(p.promoted)
	}
}

// waitConnection returns the guild's connection once it is ready to send. If
// the guild is still pending, it waits for the promotion to finish first.
func (c *Client) waitConnection(ctx context.Context, guildID discord.GuildID) (*Connection, error) {
	for {
		c.mapmutex.Lock()
		if conn, ok := c.active[guildID]; ok {
			c.mapmutex.Unlock()

			if err := conn.WaitReady(ctx); err != nil {
				return nil, err
			}
			return conn, nil
		}

		p, ok := c.pending[guildID]
		if !ok {
			c.mapmutex.Unlock()
			return nil, ErrNotConnected
		}

		promoted := p.promoted
		c.mapmutex.Unlock()

		select {
		case <-promoted:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
