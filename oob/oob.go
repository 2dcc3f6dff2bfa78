// Package oob implements the "connectionless" out-of-band datagram framing
// used before a netchan session exists: the four 0xFF bytes prefix, and the
// handful of text replies (status, challenge) that ride on top of it.
package oob

import (
	"bytes"
	"errors"
	"strings"
)

// Prefix is the four-byte marker that precedes every connectionless
// datagram.
var Prefix = []byte{0xff, 0xff, 0xff, 0xff}

// ErrNotConnectionless is returned when a datagram does not begin with
// Prefix.
var ErrNotConnectionless = errors.New("oob: datagram missing connectionless prefix")

// ErrMalformedChallenge is returned when a challenge response cannot be
// tokenized into "challenge <value> p=<protocols>".
var ErrMalformedChallenge = errors.New("oob: malformed challenge response")

// Wrap prepends the connectionless prefix to payload.
func Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(Prefix)+len(payload))
	out = append(out, Prefix...)
	out = append(out, payload...)
	return out
}

// Unwrap strips the connectionless prefix from datagram, returning the
// payload that follows it. ErrNotConnectionless is returned if the prefix
// is absent.
func Unwrap(datagram []byte) ([]byte, error) {
	if len(datagram) < len(Prefix) || !bytes.Equal(datagram[:len(Prefix)], Prefix) {
		return nil, ErrNotConnectionless
	}
	return datagram[len(Prefix):], nil
}

// Challenge is the parsed response to a getchallenge request.
type Challenge struct {
	Value     string
	Protocols string
}

// ParseChallenge tokenizes a "challenge <value> p=<protocols>" response.
func ParseChallenge(text string) (*Challenge, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 || fields[0] != "challenge" {
		return nil, ErrMalformedChallenge
	}
	if !strings.HasPrefix(fields[2], "p=") {
		return nil, ErrMalformedChallenge
	}
	return &Challenge{
		Value:     fields[1],
		Protocols: strings.TrimPrefix(fields[2], "p="),
	}, nil
}
