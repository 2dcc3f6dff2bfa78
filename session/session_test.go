package session

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/fragglet/q2client/internal/cursor"
	"github.com/fragglet/q2client/oob"
	"github.com/fragglet/q2client/protocol"
)

// fakeServer answers the connectionless handshake and the single netchan
// exchange each test needs, standing in for a real Quake II server.
type fakeServer struct {
	conn *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return &fakeServer{conn: conn}
}

func (s *fakeServer) addr() string {
	return s.conn.LocalAddr().String()
}

func (s *fakeServer) recvOOB(t *testing.T) ([]byte, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 1500)
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recvOOB: %v", err)
	}
	payload, err := oob.Unwrap(buf[:n])
	if err != nil {
		t.Fatalf("recvOOB unwrap: %v", err)
	}
	return payload, addr
}

func (s *fakeServer) sendOOB(t *testing.T, addr *net.UDPAddr, payload string) {
	t.Helper()
	if _, err := s.conn.WriteToUDP(oob.Wrap([]byte(payload)), addr); err != nil {
		t.Fatalf("sendOOB: %v", err)
	}
}

// runHandshake drives the server side of Handshake: answer getchallenge then
// client_connect, and returns the client's address for later use.
func (s *fakeServer) runHandshake(t *testing.T, extra string) *net.UDPAddr {
	t.Helper()
	_, addr := s.recvOOB(t)
	s.sendOOB(t, addr, "challenge 123456 p=34,35,36")
	s.recvOOB(t)
	s.sendOOB(t, addr, "client_connect map=base1 nc=new"+extra)
	return addr
}

func newTestSession(t *testing.T, serverAddr string) *Session {
	t.Helper()
	sess, err := New(Config{ServerAddress: serverAddr, Version: "test-client 1.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestHandshakeSuccess(t *testing.T) {
	server := newFakeServer(t)
	defer server.conn.Close()

	sess := newTestSession(t, server.addr())

	done := make(chan error, 1)
	go func() { done <- sess.Handshake(context.Background()) }()

	server.runHandshake(t, "")
	// The handshake also queues a reliable "new" command, but only in the
	// netchan Message buffer: nothing is transmitted until the first Pump,
	// so this read waits out its deadline and receives nothing.
	buf := make([]byte, 1500)
	server.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	server.conn.ReadFromUDP(buf)

	if err := <-done; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if !sess.Connected() {
		t.Errorf("want Connected() true after a successful handshake")
	}
	if sess.ConnectInfo().Map != "base1" {
		t.Errorf("ConnectInfo.Map: want base1, got %q", sess.ConnectInfo().Map)
	}
	if sess.ConnectInfo().NetchanVariant != "new" {
		t.Errorf("ConnectInfo.NetchanVariant: want new, got %q", sess.ConnectInfo().NetchanVariant)
	}
}

func TestHandshakeRejectsAntiCheat(t *testing.T) {
	server := newFakeServer(t)
	defer server.conn.Close()

	sess := newTestSession(t, server.addr())

	done := make(chan error, 1)
	go func() { done <- sess.Handshake(context.Background()) }()

	_, addr := server.recvOOB(t)
	server.sendOOB(t, addr, "challenge 1 p=34")
	server.recvOOB(t)
	server.sendOOB(t, addr, "client_connect ac=1 map=base1")

	err := <-done
	if err != ErrAntiCheatRequired {
		t.Fatalf("want ErrAntiCheatRequired, got %v", err)
	}
	if sess.Connected() {
		t.Errorf("want Connected() false after an anti-cheat rejection")
	}
}

func TestPumpDecodesServerEvents(t *testing.T) {
	server := newFakeServer(t)
	defer server.conn.Close()

	sess := newTestSession(t, server.addr())

	done := make(chan error, 1)
	go func() { done <- sess.Handshake(context.Background()) }()
	clientAddr := server.runHandshake(t, "")

	buf := make([]byte, 1500)
	server.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	server.conn.ReadFromUDP(buf) // times out: "new" is queued, not yet sent

	if err := <-done; err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	w := cursor.NewWriter(64)
	w.WriteUint32LE(1) // seq, no reliable flag
	w.WriteUint32LE(0) // ack
	w.WriteUint8(uint8(protocol.OpPrint))
	w.WriteUint8(uint8(protocol.PrintHigh))
	w.WriteBytes([]byte("hello\x00"))
	if _, err := server.conn.WriteToUDP(w.Bytes(), clientAddr); err != nil {
		t.Fatalf("send datagram: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, err := sess.Pump(ctx)
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(events) != 1 || events[0].Kind != protocol.EventPrint {
		t.Fatalf("want a single EventPrint, got %+v", events)
	}
	if string(events[0].Bytes) != "hello" {
		t.Errorf("Bytes: want %q, got %q", "hello", events[0].Bytes)
	}
}

func TestPumpQueuesDisconnectReplyAndDisconnects(t *testing.T) {
	server := newFakeServer(t)
	defer server.conn.Close()

	sess := newTestSession(t, server.addr())

	done := make(chan error, 1)
	go func() { done <- sess.Handshake(context.Background()) }()
	clientAddr := server.runHandshake(t, "")

	buf := make([]byte, 1500)
	server.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	server.conn.ReadFromUDP(buf)

	if err := <-done; err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	w := cursor.NewWriter(16)
	w.WriteUint32LE(1)
	w.WriteUint32LE(0)
	w.WriteUint8(uint8(protocol.OpDisconnect))
	if _, err := server.conn.WriteToUDP(w.Bytes(), clientAddr); err != nil {
		t.Fatalf("send datagram: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, err := sess.Pump(ctx)
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(events) != 1 || events[0].Kind != protocol.EventDisconnect {
		t.Fatalf("want a single EventDisconnect, got %+v", events)
	}
	if sess.Connected() {
		t.Errorf("want Connected() false after receiving Disconnect")
	}

	server.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := server.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("want a queued disconnect command, got error: %v", err)
	}
	if n < 9 {
		t.Fatalf("disconnect reply packet too short: %d bytes", n)
	}
}

func TestStatusQuery(t *testing.T) {
	server := newFakeServer(t)
	defer server.conn.Close()

	sess := newTestSession(t, server.addr())

	done := make(chan string, 1)
	go func() {
		payload, addr := server.recvOOB(t)
		if string(payload) != "status" {
			t.Errorf("want status query, got %q", payload)
			return
		}
		server.sendOOB(t, addr, "print\n\\hostname\\test server\n")
		done <- ""
	}()

	text, err := sess.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	<-done
	if fmt.Sprintf("%q", text) == `""` {
		t.Errorf("want a non-empty status response")
	}
}
