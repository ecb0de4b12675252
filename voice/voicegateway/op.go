package voicegateway

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/solunet/waveform/utils/json"
	"github.com/solunet/waveform/utils/wsutil"
)

// OPCode represents a voice gateway operation code.
type OPCode = wsutil.OPCode

const (
	IdentifyOP           OPCode = 0 // send
	SelectProtocolOP     OPCode = 1 // send
	ReadyOP              OPCode = 2 // receive
	HeartbeatOP          OPCode = 3 // send
	SessionDescriptionOP OPCode = 4 // receive
	SpeakingOP           OPCode = 5 // send/receive
	HeartbeatAckOP       OPCode = 6 // receive
	ResumeOP             OPCode = 7 // send
	HelloOP              OPCode = 8 // receive
	ResumedOP            OPCode = 9 // receive

	ClientsConnectOP   OPCode = 11 // receive, ignored
	ClientDisconnectOP OPCode = 13 // receive, ignored
)

// The DAVE opcodes are recognized so that their arrival isn't reported as
// unknown, but their payloads are ignored: the end-to-end encryption protocol
// is not implemented.
const (
	DAVEPrepareTransitionOP           OPCode = 21 // receive, ignored
	DAVEExecuteTransitionOP           OPCode = 22 // receive, ignored
	DAVETransitionReadyOP             OPCode = 23 // send, unused
	DAVEPrepareEpochOP                OPCode = 24 // receive, ignored
	DAVEMLSExternalSenderOP           OPCode = 25 // receive, ignored
	DAVEMLSKeyPackageOP               OPCode = 26 // send, unused
	DAVEMLSProposalsOP                OPCode = 27 // receive, ignored
	DAVEMLSCommitWelcomeOP            OPCode = 28 // send, unused
	DAVEMLSAnnounceCommitTransitionOP OPCode = 29 // receive, ignored
	DAVEMLSWelcomeOP                  OPCode = 30 // receive, ignored
	DAVEMLSInvalidCommitWelcomeOP     OPCode = 31 // send, unused
)

func (c *Gateway) handleOP(op *wsutil.OP) error {
	switch op.Code {
	// Gives information required to make a UDP connection.
	case ReadyOP:
		if err := unmarshalMutex(op.Data, &c.ready, &c.mutex); err != nil {
			return errors.Wrap(err, "failed to parse READY event")
		}
		signal(c.readyCh)

	// Gives the secret key and encryption mode for sending voice packets.
	case SessionDescriptionOP:
		if err := unmarshalMutex(op.Data, &c.sessionDesc, &c.mutex); err != nil {
			return errors.Wrap(err, "failed to parse SESSION_DESCRIPTION event")
		}
		signal(c.sessionDescCh)

	// Someone started or stopped speaking.
	case SpeakingOP:
		wsutil.WSDebug("Received SPEAKING.")

	// Heartbeat response from the server.
	case HeartbeatAckOP:
		if c.Pacemaker != nil {
			c.Pacemaker.Echo()
		}

	// Hello server, we hear you! :)
	case HelloOP:
		var hello HelloEvent
		if err := op.UnmarshalData(&hello); err != nil {
			return errors.Wrap(err, "failed to parse HELLO event")
		}
		c.startPacemaker(hello.HeartbeatInterval.Duration())
		signal(c.helloCh)

	// Server is saying the connection was resumed, no data here.
	case ResumedOP:
		wsutil.WSDebug("Voice gateway connection has been resumed.")

	case ClientsConnectOP, ClientDisconnectOP:
		wsutil.WSDebug("Ignoring client connection change, OP", op.Code)

	case DAVEPrepareTransitionOP, DAVEExecuteTransitionOP, DAVEPrepareEpochOP,
		DAVEMLSExternalSenderOP, DAVEMLSProposalsOP,
		DAVEMLSAnnounceCommitTransitionOP, DAVEMLSWelcomeOP:
		wsutil.WSDebug("Ignoring DAVE payload, OP", op.Code)

	default:
		// Unknown opcodes must never terminate the session.
		wsutil.WSDebug("Ignoring unknown OP code", op.Code)
	}

	return nil
}

func unmarshalMutex(d json.Raw, v interface{}, m *sync.RWMutex) error {
	m.Lock()
	err := d.UnmarshalTo(v)
	m.Unlock()
	return err
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
