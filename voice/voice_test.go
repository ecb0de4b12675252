package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/solunet/waveform/discord"
	"github.com/solunet/waveform/gateway"
)

// fakeHandle records every voice state update the client asks the host bot to
// send.
type fakeHandle struct {
	mu      sync.Mutex
	updates []gateway.UpdateVoiceStateData
	err     error
}

func (h *fakeHandle) UpdateVoiceState(ctx context.Context, data gateway.UpdateVoiceStateData) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.updates = append(h.updates, data)
	return h.err
}

func (h *fakeHandle) last(t *testing.T) gateway.UpdateVoiceStateData {
	t.Helper()

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.updates) == 0 {
		t.Fatal("No voice state updates were sent.")
	}
	return h.updates[len(h.updates)-1]
}

const botUser discord.UserID = 3

// testClient returns a client whose promoted connections immediately succeed
// without touching the network.
func testClient(h *fakeHandle) (*Client, *atomic.Int32) {
	c := NewClient(h, botUser)
	c.ErrorLog = func(error) {}

	connects := atomic.NewInt32(0)
	c.connect = func(ctx context.Context, conn *Connection, endpoint, sessionID, token string) error {
		connects.Inc()
		conn.running.Set(true)
		close(conn.readyToSend)
		return nil
	}

	return c, connects
}

func join(t *testing.T, c *Client, guildID discord.GuildID) {
	t.Helper()

	ctx := context.Background()

	if err := c.Connect(ctx, guildID, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	c.UpdateServer(&gateway.VoiceServerUpdateEvent{
		GuildID:  guildID,
		Token:    "T",
		Endpoint: "node.example",
	})
	c.UpdateState(&gateway.VoiceStateUpdateEvent{
		GuildID:   guildID,
		ChannelID: 2,
		UserID:    botUser,
		SessionID: "S",
	})

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.waitConnection(waitCtx, guildID); err != nil {
		t.Fatal("Promotion did not finish:", err)
	}
}

func TestConnectDuplicate(t *testing.T) {
	h := &fakeHandle{}
	c, connects := testClient(h)

	join(t, c, 1)

	if n := connects.Load(); n != 1 {
		t.Fatal("Unexpected connect count:", n)
	}

	if err := c.Connect(context.Background(), 1, 2, false, true); err != ErrAlreadyConnected {
		t.Fatal("Expected ErrAlreadyConnected, got", err)
	}

	// The duplicate must not have sent another voice state update.
	h.mu.Lock()
	n := len(h.updates)
	h.mu.Unlock()
	if n != 1 {
		t.Fatal("Unexpected update count:", n)
	}
}

func TestConnectDuplicateWhilePending(t *testing.T) {
	h := &fakeHandle{}
	c, _ := testClient(h)

	if err := c.Connect(context.Background(), 1, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	if err := c.Connect(context.Background(), 1, 2, false, true); err != ErrAlreadyConnected {
		t.Fatal("Expected ErrAlreadyConnected, got", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	h := &fakeHandle{}
	c, _ := testClient(h)

	join(t, c, 1)

	if err := c.Disconnect(context.Background(), 1); err != nil {
		t.Fatal("Disconnect failed:", err)
	}

	leave := h.last(t)
	if leave.ChannelID.IsValid() {
		t.Fatal("Leave update still has a channel:", leave.ChannelID)
	}
	if !leave.SelfMute || !leave.SelfDeaf {
		t.Fatal("Leave update is not muted and deafened.")
	}

	if err := c.Disconnect(context.Background(), 1); err != ErrNotConnected {
		t.Fatal("Expected ErrNotConnected, got", err)
	}
}

func TestPromotionRace(t *testing.T) {
	h := &fakeHandle{}
	c, connects := testClient(h)

	if err := c.Connect(context.Background(), 1, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	// Both events land concurrently; exactly one promotion must win.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.UpdateServer(&gateway.VoiceServerUpdateEvent{
			GuildID: 1, Token: "T", Endpoint: "node.example",
		})
	}()
	go func() {
		defer wg.Done()
		c.UpdateState(&gateway.VoiceStateUpdateEvent{
			GuildID: 1, ChannelID: 2, UserID: botUser, SessionID: "S",
		})
	}()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.waitConnection(ctx, 1); err != nil {
		t.Fatal("Promotion did not finish:", err)
	}

	if n := connects.Load(); n != 1 {
		t.Fatal("Promotion ran more than once:", n)
	}
}

func TestUpdateStateOtherUser(t *testing.T) {
	h := &fakeHandle{}
	c, connects := testClient(h)

	if err := c.Connect(context.Background(), 1, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	c.UpdateServer(&gateway.VoiceServerUpdateEvent{
		GuildID: 1, Token: "T", Endpoint: "node.example",
	})
	c.UpdateState(&gateway.VoiceStateUpdateEvent{
		GuildID: 1, ChannelID: 2, UserID: botUser + 1, SessionID: "S",
	})

	if n := connects.Load(); n != 0 {
		t.Fatal("A stranger's state update triggered a promotion.")
	}
}

func TestPendingDroppedOnLeave(t *testing.T) {
	h := &fakeHandle{}
	c, connects := testClient(h)

	if err := c.Connect(context.Background(), 1, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	// The bot was bounced out of the channel before the server update came.
	c.UpdateState(&gateway.VoiceStateUpdateEvent{
		GuildID: 1, ChannelID: discord.ChannelID(discord.NullSnowflake), UserID: botUser,
	})
	c.UpdateServer(&gateway.VoiceServerUpdateEvent{
		GuildID: 1, Token: "T", Endpoint: "node.example",
	})

	if n := connects.Load(); n != 0 {
		t.Fatal("A dead pending entry was promoted.")
	}

	if _, err := c.waitConnection(context.Background(), 1); err != ErrNotConnected {
		t.Fatal("Expected ErrNotConnected, got", err)
	}
}

func TestPlayFileNotConnected(t *testing.T) {
	h := &fakeHandle{}
	c, _ := testClient(h)

	if err := c.PlayFile(context.Background(), 1, "audio.ogg"); err != ErrNotConnected {
		t.Fatal("Expected ErrNotConnected, got", err)
	}
	if err := c.PlaySilence(context.Background(), 1); err != ErrNotConnected {
		t.Fatal("Expected ErrNotConnected, got", err)
	}
	if err := c.Stop(1); err != ErrNotConnected {
		t.Fatal("Expected ErrNotConnected, got", err)
	}
}
