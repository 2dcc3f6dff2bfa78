// Package session ties the netchan and protocol layers together into a
// single per-server connection: it performs the connectionless handshake,
// drives the pump loop, and answers the stuff-text subcommands the server
// expects a live client to handle locally.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fragglet/q2client/internal/cursor"
	"github.com/fragglet/q2client/netchan"
	"github.com/fragglet/q2client/oob"
	"github.com/fragglet/q2client/protocol"
	"github.com/fragglet/q2client/userinfo"
)

const (
	maxDatagram = 1500

	// keepAliveInterval is how long the channel may go without a
	// transmit before a Nop is queued to keep NAT/firewall state alive.
	keepAliveInterval = 2 * time.Second
)

// ErrNotConnected is returned by Pump and SendCommand when called before a
// successful Handshake.
var ErrNotConnected = errors.New("session: not connected")

// ErrAntiCheatRequired is returned by Handshake when the server's
// client_connect response demands an anti-cheat token this client does
// not supply.
var ErrAntiCheatRequired = errors.New("session: server requires anti-cheat (ac=)")

// ErrMalformedConnect is returned when the client_connect response cannot
// be parsed.
var ErrMalformedConnect = errors.New("session: malformed client_connect response")

// Config configures a new Session.
type Config struct {
	// ServerAddress is the "host:port" of the Quake II server.
	ServerAddress string

	// LocalPort is the UDP port to bind locally. Zero asks the OS to
	// pick an ephemeral port.
	LocalPort int

	// QPort is the 16-bit client identifier sent in every packet header.
	// Zero derives it from the bound local UDP port.
	QPort uint16

	// Version is the string reported in reply to a "version" stuff-text
	// subcommand.
	Version string

	// Logger receives connection lifecycle messages. May be nil.
	Logger *log.Logger
}

// ConnectInfo records the informational tokens from a successful
// client_connect response that this client does not otherwise act on.
type ConnectInfo struct {
	Map             string
	NetchanVariant  string
}

// Session is one client-side connection to a Quake II server.
type Session struct {
	cfg        Config
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	qport      uint16

	connected       bool
	lastSent        time.Time
	lastPrecache    uint32
	connectInfo     ConnectInfo

	chain   *netchan.Chan
	decoder *protocol.Decoder
}

// New resolves cfg.ServerAddress and binds a local UDP endpoint, but does
// not perform the handshake.
func New(cfg Config) (*Session, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp4", cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve server address: %w", err)
	}
	localAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.LocalPort}
	conn, err := net.ListenUDP("udp4", localAddr)
	if err != nil {
		return nil, fmt.Errorf("bind local endpoint: %w", err)
	}

	qport := cfg.QPort
	if qport == 0 {
		qport = uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	}

	s := &Session{
		cfg:        cfg,
		conn:       conn,
		remoteAddr: remoteAddr,
		qport:      qport,
		chain:      netchan.NewClient(qport),
		decoder:    protocol.NewDecoder(),
	}
	return s, nil
}

// Close releases the local UDP endpoint.
func (s *Session) Close() error {
	return s.conn.Close()
}

// ConnectInfo returns the informational tokens captured from the
// client_connect response (map=, nc=), valid once Handshake has succeeded.
func (s *Session) ConnectInfo() ConnectInfo {
	return s.connectInfo
}

// LastPrecache returns the most recent precache sequence number handed to
// this client by a "precache" stuff-text command.
func (s *Session) LastPrecache() uint32 {
	return s.lastPrecache
}

// Retransmits returns the number of times the net-channel has resent an
// already-queued reliable payload because it had not yet been acked.
func (s *Session) Retransmits() uint64 {
	return s.chain.Retransmits
}

// Connected reports whether the handshake has completed and no
// Disconnect/Reconnect/anti-cheat rejection has occurred since.
func (s *Session) Connected() bool {
	return s.connected
}

// Subscribe registers a callback invoked synchronously, in addition to
// Pump's returned events, whenever an Event for op is decoded.
func (s *Session) Subscribe(op protocol.ServerOp, sub protocol.Subscriber) {
	s.decoder.Subscribe(op, sub)
}

func (s *Session) log(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

// oobPrint sends a connectionless datagram to the remote server.
func (s *Session) oobPrint(payload []byte) error {
	_, err := s.conn.WriteToUDP(oob.Wrap(payload), s.remoteAddr)
	return err
}

// recvConnectionless blocks for one datagram and returns its payload. While
// not yet connected, datagrams from an address other than the configured
// remote are silently dropped and waited past - the pre-connect OOB
// source-address filter.
func (s *Session) recvConnectionless() ([]byte, error) {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !s.connected && (!addr.IP.Equal(s.remoteAddr.IP) || addr.Port != s.remoteAddr.Port) {
			continue
		}
		payload, err := oob.Unwrap(buf[:n])
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// Status sends a "status" OOB query and returns the raw text response.
// Usable before Handshake; this is the path an external process monitor
// uses to probe server liveness without a full session.
func (s *Session) Status() (string, error) {
	if err := s.oobPrint([]byte("status")); err != nil {
		return "", err
	}
	payload, err := s.recvConnectionless()
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (s *Session) getChallenge() (*oob.Challenge, error) {
	if err := s.oobPrint([]byte("getchallenge")); err != nil {
		return nil, err
	}
	payload, err := s.recvConnectionless()
	if err != nil {
		return nil, err
	}
	return oob.ParseChallenge(string(payload))
}

// Handshake performs the connectionless challenge/connect exchange and
// queues the reliable "new" command on success. On any failure the session
// remains (or becomes) disconnected.
func (s *Session) Handshake(ctx context.Context) error {
	s.lastSent = time.Now()

	challenge, err := s.getChallenge()
	if err != nil {
		return fmt.Errorf("getchallenge: %w", err)
	}

	info := userinfo.Info{}
	connectMsg := fmt.Sprintf("connect %d %d %s \"%s\"\n",
		protocol.Vanilla, s.qport, challenge.Value, info.Format())
	if err := s.oobPrint([]byte(connectMsg)); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.connected = true

	if err := s.parseClientConnect(); err != nil {
		s.connected = false
		return err
	}

	if err := s.SendCommand("new"); err != nil {
		s.connected = false
		return fmt.Errorf("queue new command: %w", err)
	}

	return nil
}

func (s *Session) parseClientConnect() error {
	payload, err := s.recvConnectionless()
	if err != nil {
		return fmt.Errorf("client_connect: %w", err)
	}
	fields := strings.Fields(string(payload))
	if len(fields) == 0 || fields[0] != "client_connect" {
		return ErrMalformedConnect
	}
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "ac="):
			return ErrAntiCheatRequired
		case strings.HasPrefix(f, "map="):
			s.connectInfo.Map = strings.TrimPrefix(f, "map=")
		case strings.HasPrefix(f, "nc="):
			s.connectInfo.NetchanVariant = strings.TrimPrefix(f, "nc=")
		}
	}
	return nil
}

// SendCommand queues a reliable StringCmd command for the next Transmit.
func (s *Session) SendCommand(cmd string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.chain.Message.WriteUint8(uint8(protocol.ClientOpStringCmd)); err != nil {
		return err
	}
	return s.chain.Message.WriteString(cmd)
}

// sendResultCommand queues a reliable StringCmd reply wrapped with the
// "\x7fc " marker that distinguishes protocol replies from user commands.
func (s *Session) sendResultCommand(cmd string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.chain.Message.WriteUint8(uint8(protocol.ClientOpStringCmd)); err != nil {
		return err
	}
	if err := s.chain.Message.WriteBytes([]byte("\x7fc ")); err != nil {
		return err
	}
	return s.chain.Message.WriteString(cmd)
}

var stuffCmdPrefix = []byte("cmd \x7fc")

// handleStuffText executes the local side-effects of a received stuff-text
// command: protocol subcommand replies, precache acknowledgement, and the
// (currently no-op) map-change hook.
func (s *Session) handleStuffText(data []byte) {
	for _, line := range bytes.Split(data, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, stuffCmdPrefix):
			sub := string(line[len(stuffCmdPrefix):])
			switch {
			case strings.HasPrefix(sub, "version"):
				if err := s.sendResultCommand(fmt.Sprintf("version %q", s.cfg.Version)); err != nil {
					s.log("session: failed to queue version reply: %v", err)
				}
			case strings.HasPrefix(sub, "actoken"):
				if err := s.sendResultCommand("actoken"); err != nil {
					s.log("session: failed to queue actoken reply: %v", err)
				}
			}
		case bytes.HasPrefix(line, []byte("precache")):
			seq := uint32(0)
			if len(line) > 9 {
				if v, err := strconv.ParseUint(string(line[9:]), 10, 32); err == nil {
					seq = uint32(v)
				}
			}
			s.lastPrecache = seq
			if err := s.SendCommand(fmt.Sprintf("begin %d", seq)); err != nil {
				s.log("session: failed to queue begin command: %v", err)
			}
			s.lastSent = time.Now()
		case bytes.HasPrefix(line, []byte("changing")):
			// Map-change hook: nothing to do in this core.
		}
	}
}

// handleDatagram feeds a single received datagram through the net-channel
// and, if accepted, the command decoder.
func (s *Session) handleDatagram(data []byte) ([]protocol.Event, error) {
	r := cursor.NewReader(data)
	if !s.chain.Process(r) {
		return nil, nil
	}

	events, err := s.decoder.Decode(r)
	if err != nil {
		return events, err
	}

	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case protocol.EventDisconnect, protocol.EventReconnect:
			if err := s.SendCommand("disconnect"); err != nil {
				s.log("session: failed to queue disconnect: %v", err)
			}
			s.connected = false
		case protocol.EventStuffText:
			s.handleStuffText(ev.Bytes)
		}
	}

	return events, nil
}

func (s *Session) maybeTransmit() error {
	if !s.chain.ShouldTransmit() {
		return nil
	}
	pkt := s.chain.Transmit(nil)
	if _, err := s.conn.WriteToUDP(pkt, s.remoteAddr); err != nil {
		return err
	}
	s.lastSent = time.Now()
	return nil
}

func (s *Session) maybeKeepAlive() error {
	if time.Since(s.lastSent) <= keepAliveInterval {
		return nil
	}
	if err := s.chain.Message.WriteUint8(uint8(protocol.ClientOpNop)); err != nil {
		return err
	}
	return nil
}

// Pump drains every datagram currently queued on the socket, feeding each
// through the net-channel and command decoder, then sends a keep-alive Nop
// if one is due and transmits any pending outgoing data. It returns every
// Event decoded during the call.
func (s *Session) Pump(ctx context.Context) ([]protocol.Event, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}

	var all []protocol.Event

	for {
		// Each datagram gets its own buffer: the returned events' byte
		// slices alias it, so it must not be overwritten by the next read.
		buf := make([]byte, maxDatagram)

		// A deadline one millisecond ahead makes the following read
		// return with a timeout error if nothing is queued, emulating a
		// non-blocking peek without relying on platform-specific peek
		// support for UDP sockets. (A deadline of time.Now() itself has
		// already passed when the read starts, so the read would fail
		// without looking at the socket.)
		if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return all, err
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return all, err
		}
		if !addr.IP.Equal(s.remoteAddr.IP) || addr.Port != s.remoteAddr.Port {
			continue
		}

		events, err := s.handleDatagram(buf[:n])
		all = append(all, events...)
		if err != nil {
			return all, err
		}

		if err := s.maybeTransmit(); err != nil {
			return all, err
		}

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}
	}

	if err := s.maybeKeepAlive(); err != nil {
		return all, err
	}
	if err := s.maybeTransmit(); err != nil {
		return all, err
	}

	return all, nil
}
