// Package client implements the lightweight connectionless operations a
// caller can use without holding a full session - in particular the
// "status" probe a process-monitor front end uses to check that a
// dedicated server is still answering, reusing the same connectionless
// path the handshake uses.
package client

import (
	"context"
	"fmt"
	"net"

	"github.com/fragglet/q2client/oob"
)

// Status sends a single "status" out-of-band query to addr and returns the
// server's text response. It opens its own ephemeral UDP socket and makes
// no retry attempt; callers that need retries or a timeout should wrap the
// context accordingly.
func Status(ctx context.Context, addr string) (string, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return "", fmt.Errorf("resolve server address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return "", fmt.Errorf("bind local endpoint: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.WriteToUDP(oob.Wrap([]byte("status")), remoteAddr); err != nil {
		return "", fmt.Errorf("send status query: %w", err)
	}

	buf := make([]byte, 1500)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", fmt.Errorf("receive status response: %w", err)
	}

	payload, err := oob.Unwrap(buf[:n])
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
