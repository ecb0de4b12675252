package voice

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"

	"github.com/solunet/waveform/gateway"
	"github.com/solunet/waveform/voice/audio"
	"github.com/solunet/waveform/voice/crypt"
)

var fakeOpusFrame = []byte{0xF8, 0xFF, 0xFE}

type fakeOpus struct{}

func (fakeOpus) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != audio.FrameBytes {
		return nil, audio.ErrInvalidFrameSize
	}
	return fakeOpusFrame, nil
}

type wirePayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
}

// mockNode is a complete in-test voice node: WebSocket control plane plus a
// UDP endpoint for discovery and RTP.
type mockNode struct {
	t     *testing.T
	srv   *httptest.Server
	pc    net.PacketConn
	Modes []string

	Identifies chan json.RawMessage
	Selects    chan json.RawMessage
	Discovery  chan []byte
	Packets    chan []byte
}

func startMockNode(t *testing.T) *mockNode {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("Failed to listen on UDP:", err)
	}
	t.Cleanup(func() { pc.Close() })

	n := &mockNode{
		t:          t,
		pc:         pc,
		Modes:      []string{crypt.ModeAEADAES256GCMRTPSize},
		Identifies: make(chan json.RawMessage, 4),
		Selects:    make(chan json.RawMessage, 4),
		Discovery:  make(chan []byte, 4),
		Packets:    make(chan []byte, 256),
	}

	go n.serveUDP()

	n.srv = httptest.NewServer(http.HandlerFunc(n.serveWS))
	t.Cleanup(n.srv.Close)

	return n
}

func (n *mockNode) Endpoint() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

func (n *mockNode) serveUDP() {
	buf := make([]byte, 1500)

	read, addr, err := n.pc.ReadFrom(buf)
	if err != nil {
		return
	}
	n.Discovery <- append([]byte(nil), buf[:read]...)

	resp := make([]byte, 74)
	resp[1] = 0x02
	copy(resp[8:], "9.9.9.9")
	resp[72] = 0xC3 // port 50000, big-endian
	resp[73] = 0x50
	n.pc.WriteTo(resp, addr)

	for {
		read, _, err := n.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		n.Packets <- append([]byte(nil), buf[:read]...)
	}
}

func (n *mockNode) serveWS(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.t.Error("Failed to upgrade:", err)
		return
	}
	defer conn.Close()

	var p wirePayload
	if err := conn.ReadJSON(&p); err != nil || p.Op != 0 {
		n.t.Error("First payload is not IDENTIFY.")
		return
	}
	n.Identifies <- p.D

	port := n.pc.LocalAddr().(*net.UDPAddr).Port

	conn.WriteJSON(wirePayload{Op: 8, D: rawJSON(`{"heartbeat_interval":41250}`)})
	conn.WriteJSON(wirePayload{Op: 2, D: mustRaw(n.t, map[string]interface{}{
		"ssrc":  7,
		"ip":    "127.0.0.1",
		"port":  port,
		"modes": n.Modes,
	})})

	for {
		var p wirePayload
		if err := conn.ReadJSON(&p); err != nil {
			return
		}

		switch p.Op {
		case 3: // heartbeat
			conn.WriteJSON(wirePayload{Op: 6, D: p.D})

		case 1: // select protocol
			n.Selects <- p.D
			conn.WriteJSON(wirePayload{Op: 4, D: mustRaw(n.t, map[string]interface{}{
				"mode":       n.Modes[0],
				"secret_key": make([]int, crypt.KeySize),
			})})
		}
	}
}

func rawJSON(s string) json.RawMessage { return json.RawMessage(s) }

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestIntegration(t *testing.T) {
	node := startMockNode(t)

	h := &fakeHandle{}
	client := NewClient(h, botUser)
	client.ErrorLog = func(err error) { t.Error("Client error:", err) }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx, 1, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	// The host bot would now deliver the two gateway events.
	client.UpdateServer(&gateway.VoiceServerUpdateEvent{
		GuildID: 1, Token: "T", Endpoint: node.Endpoint(),
	})
	client.UpdateState(&gateway.VoiceStateUpdateEvent{
		GuildID: 1, ChannelID: 2, UserID: botUser, SessionID: "S",
	})

	conn, err := client.waitConnection(ctx, 1)
	if err != nil {
		t.Fatal("Handshake did not finish:", err)
	}

	// Exactly one IDENTIFY, one discovery datagram, one SELECT_PROTOCOL.
	identify := <-node.Identifies
	if !strings.Contains(string(identify), `"server_id":"1"`) {
		t.Fatal("Unexpected IDENTIFY:", string(identify))
	}

	disc := <-node.Discovery
	if len(disc) != 74 || disc[0] != 0x00 || disc[1] != 0x01 {
		t.Fatalf("Unexpected discovery request: % x", disc[:8])
	}

	sp := <-node.Selects
	for _, want := range []string{`"address":"9.9.9.9"`, `"port":50000`, `"mode":"aead_aes256_gcm_rtpsize"`} {
		if !strings.Contains(string(sp), want) {
			t.Fatalf("SELECT_PROTOCOL %s is missing %s", sp, want)
		}
	}

	select {
	case extra := <-node.Identifies:
		t.Fatal("Duplicate IDENTIFY:", string(extra))
	case extra := <-node.Discovery:
		t.Fatal("Duplicate discovery request:", extra)
	default:
	}

	// Stream silence through a stand-in encoder and watch the packets.
	conn.newEncoder = func(audio.Application) (audio.Encoder, error) {
		return fakeOpus{}, nil
	}

	playDone := make(chan error, 1)
	go func() {
		playDone <- client.PlaySilence(context.Background(), 1)
	}()

	key := make([]byte, crypt.KeySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}

	const packets = 5
	start := time.Now()

	for i := 0; i < packets; i++ {
		var packet []byte
		select {
		case packet = <-node.Packets:
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for packet", i)
		}

		var hd rtp.Header
		if _, err := hd.Unmarshal(packet); err != nil {
			t.Fatalf("Packet %d: bad RTP header: %v", i, err)
		}

		if hd.SequenceNumber != uint16(i) {
			t.Fatalf("Packet %d: sequence %d", i, hd.SequenceNumber)
		}
		if hd.Timestamp != uint32(i)*960 {
			t.Fatalf("Packet %d: timestamp %d", i, hd.Timestamp)
		}
		if hd.SSRC != 7 {
			t.Fatalf("Packet %d: SSRC %d", i, hd.SSRC)
		}

		opus, err := aead.Open(nil, packet[:12], packet[12:], packet[:12])
		if err != nil {
			t.Fatalf("Packet %d: decryption failed: %v", i, err)
		}
		if string(opus) != string(fakeOpusFrame) {
			t.Fatalf("Packet %d: unexpected payload % x", i, opus)
		}
	}

	// 5 packets must span roughly 4 paced intervals.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatal("Packets were not flowing at pace; took", elapsed)
	}

	if err := client.Stop(1); err != nil {
		t.Fatal("Stop failed:", err)
	}
	if err := <-playDone; err != nil {
		t.Fatal("Playback failed:", err)
	}

	// Counters survive the stopped playback for the next one.
	if conn.udpConn.Sequence() < packets {
		t.Fatal("Sequence went backwards:", conn.udpConn.Sequence())
	}

	if err := client.Disconnect(ctx, 1); err != nil {
		t.Fatal("Disconnect failed:", err)
	}
	if err := client.Disconnect(ctx, 1); err != ErrNotConnected {
		t.Fatal("Expected ErrNotConnected, got", err)
	}

	leave := h.last(t)
	if leave.ChannelID.IsValid() {
		t.Fatal("Leave update still has a channel.")
	}
}

func TestIntegrationUnsupportedMode(t *testing.T) {
	node := startMockNode(t)
	node.Modes = []string{"unknown_x"}

	h := &fakeHandle{}
	client := NewClient(h, botUser)

	logged := make(chan error, 4)
	client.ErrorLog = func(err error) { logged <- err }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx, 1, 2, false, true); err != nil {
		t.Fatal("Connect failed:", err)
	}

	client.UpdateServer(&gateway.VoiceServerUpdateEvent{
		GuildID: 1, Token: "T", Endpoint: node.Endpoint(),
	})
	client.UpdateState(&gateway.VoiceStateUpdateEvent{
		GuildID: 1, ChannelID: 2, UserID: botUser, SessionID: "S",
	})

	select {
	case err := <-logged:
		if !strings.Contains(err.Error(), ErrEncryptionModeNotSupported.Error()) {
			t.Fatal("Unexpected error surfaced:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No error was surfaced.")
	}

	waitCtx, cancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer cancel2()

	if _, err := client.waitConnection(waitCtx, 1); err == nil {
		t.Fatal("Expected the connection to be gone.")
	}
}
