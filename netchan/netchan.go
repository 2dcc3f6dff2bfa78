// Package netchan implements the vanilla Quake II net-channel: a
// reliable-message-layered-over-datagrams state machine with high-bit
// sequence flags, an alternating reliable toggle, and ack-driven
// retransmit. See original id Software chan.c for the reference behavior;
// this is a clean-room reimplementation of its client-role framing.
package netchan

import (
	"errors"

	"github.com/fragglet/q2client/internal/cursor"
	"github.com/fragglet/q2client/msgbuf"
)

const (
	// MaxPacket is the maximum size of a single transmitted packet,
	// header included.
	MaxPacket = 4096

	reliableFlag = uint32(1) << 31
	sequenceMask = uint32(0x7fffffff)
)

// ErrShortHeader names the condition of a datagram too short to contain the
// sequence/ack header (and, on the server role, the qport). Process itself
// reports that condition by returning false, not by returning this error.
var ErrShortHeader = errors.New("netchan: short packet header")

// Chan is the vanilla net-channel state for one peer. A Chan is created
// alongside its owning session and lives for the session's lifetime; it is
// not safe for concurrent use.
type Chan struct {
	// Message is the application-appended buffer: bytes written here are
	// promoted into a reliable payload the next time Transmit is called
	// and the previous reliable payload has been fully acked.
	Message *msgbuf.MsgBuf

	reliableBuf *cursor.Writer

	incomingSequence    uint32
	incomingAcknowledged uint32

	incomingReliableAcknowledged bool
	incomingReliableSequence     bool
	reliableSequence             bool
	isReliableAckPending         bool

	lastSentReliableSequence uint32
	outgoingSequence         uint32

	isClient bool
	qport    uint16

	// Retransmits counts how many times Transmit has resent an
	// already-queued reliable buffer because it was not yet acked, as
	// opposed to sending it for the first time.
	Retransmits uint64
}

// NewClient returns a Chan in the client role, tagging every transmitted
// packet with the given qport.
func NewClient(qport uint16) *Chan {
	return &Chan{
		Message:          msgbuf.New(),
		reliableBuf:      cursor.NewWriter(MaxPacket),
		outgoingSequence: 1,
		isClient:         true,
		qport:            qport,
	}
}

// NewServer returns a Chan in the server role. The server role is not
// exercised by this client-side implementation, but the header framing
// keeps it isolated to readQPort/writeQPort so a future server-role package
// can reuse Chan directly.
func NewServer() *Chan {
	return &Chan{
		Message:          msgbuf.New(),
		reliableBuf:      cursor.NewWriter(MaxPacket),
		outgoingSequence: 1,
		isClient:         false,
	}
}

// readQPort reads the role-specific qport field from an incoming packet.
// On the client role nothing is read - the server doesn't echo a qport
// back to us. Kept as a single isolated call site so a later R1Q2/Q2Pro
// variant (one-byte qport) only has to change this function and its
// write-side counterpart.
func (c *Chan) readQPort(r *cursor.Reader) (uint16, error) {
	if c.isClient {
		return 0, nil
	}
	return r.ReadUint16LE()
}

func (c *Chan) writeQPort(w *cursor.Writer) error {
	if !c.isClient {
		return nil
	}
	return w.WriteUint16LE(c.qport)
}

// Process consumes the netchan header from r and updates channel state
// accordingly. It returns true if the packet was accepted - in which case
// the remaining bytes of r are the command stream for the caller to
// decode - or false if the packet was malformed, stale, or a duplicate and
// should be dropped without further processing.
func (c *Chan) Process(r *cursor.Reader) bool {
	seq, err := r.ReadUint32LE()
	if err != nil {
		return false
	}
	ack, err := r.ReadUint32LE()
	if err != nil {
		return false
	}
	if _, err := c.readQPort(r); err != nil {
		return false
	}

	isReliableMessage := seq&reliableFlag != 0
	isReliableAck := ack&reliableFlag != 0
	seq &= sequenceMask
	ack &= sequenceMask

	if seq <= c.incomingSequence {
		return false
	}

	c.incomingReliableAcknowledged = isReliableAck
	if isReliableAck == c.reliableSequence {
		c.reliableBuf.Rewind()
	}

	c.incomingSequence = seq
	c.incomingAcknowledged = ack

	if isReliableMessage {
		c.isReliableAckPending = true
		c.incomingReliableSequence = !c.incomingReliableSequence
	}

	return true
}

// Transmit builds the next outgoing packet: the sequence/ack header, any
// reliable payload due to be (re)sent, and finally the given unreliable
// payload if it fits. Each call builds the packet in a newly allocated
// MaxPacket-byte buffer and returns its written prefix.
func (c *Chan) Transmit(unreliable []byte) []byte {
	shouldSendReliable := false

	if c.reliableBuf.Len() > 0 &&
		c.incomingReliableAcknowledged != c.reliableSequence &&
		c.incomingAcknowledged > c.lastSentReliableSequence {
		// The buffer was already sent at least once (it can only be
		// non-empty here because an earlier call promoted Message into
		// it) and still isn't acked - this is a genuine resend.
		shouldSendReliable = true
		c.Retransmits++
	} else if c.Message.Len() > 0 && c.reliableBuf.Len() == 0 {
		c.reliableBuf.WriteBytes(c.Message.Bytes())
		c.Message.Rewind()
		c.reliableSequence = !c.reliableSequence
		shouldSendReliable = true
	}

	outgoingSeq := c.outgoingSequence & sequenceMask
	if shouldSendReliable {
		outgoingSeq |= reliableFlag
	}
	incomingSeq := c.incomingSequence & sequenceMask
	if c.incomingReliableSequence {
		incomingSeq |= reliableFlag
	}

	packet := cursor.NewWriter(MaxPacket)
	packet.WriteUint32LE(outgoingSeq)
	packet.WriteUint32LE(incomingSeq)
	c.writeQPort(packet)

	if shouldSendReliable {
		packet.WriteBytes(c.reliableBuf.Bytes())
		c.lastSentReliableSequence = c.outgoingSequence
	}

	if len(unreliable) > 0 && packet.Remaining() >= len(unreliable) {
		packet.WriteBytes(unreliable)
	}

	c.outgoingSequence++
	c.isReliableAckPending = false

	return packet.Bytes()
}

// ShouldTransmit reports whether the caller has any reason to send a
// packet right now: a pending ack, queued application bytes, or a reliable
// payload still awaiting acknowledgement.
func (c *Chan) ShouldTransmit() bool {
	return c.isReliableAckPending || c.Message.Len() > 0 || c.reliableBuf.Len() > 0
}
