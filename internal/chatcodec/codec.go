// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package chatcodec implements the binary-framed chat protocol codec (C1):
// escaping of the flat key/value payload grammar, encode/parse of a payload
// to/from that grammar, and framing/deframing of the wire protocol.
//
// Payload grammar: a sequence of "key@=value/" tokens. Two characters are
// escaped inside values: '@' -> "@A", '/' -> "@S". Framing wraps a payload
// body with a length-prefixed header and a trailing NUL terminator.
package chatcodec

import (
	"encoding/binary"
	"strings"
)

// Escape returns s with '@' and '/' escaped so it is safe to embed as a
// payload value. Round-trips with Unescape for any UTF-8 string.
func Escape(s string) string {
	if !strings.ContainsAny(s, "@/") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '@':
			b.WriteString("@A")
		case '/':
			b.WriteString("@S")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Unescape reverses Escape.
func Unescape(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '@' && i+1 < len(s) {
			switch s[i+1] {
			case 'A':
				b.WriteByte('@')
				i++
				continue
			case 'S':
				b.WriteByte('/')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Payload is a flat key/value map carried by one chat-protocol message.
type Payload map[string]string

// Encode renders m as "key@=value/key@=value/..." with values escaped.
// Iteration order is not stable across calls; the grammar does not require
// it to be.
func Encode(m Payload) string {
	var b strings.Builder
	for k, v := range m {
		b.WriteString(k)
		b.WriteString("@=")
		b.WriteString(Escape(v))
		b.WriteByte('/')
	}
	return b.String()
}

// Parse splits payload on '/' and each token on the first "@=", unescaping
// the value. Tokens without "@=" are ignored. Missing keys simply are absent
// from the returned map.
func Parse(payload string) Payload {
	m := make(Payload)
	for _, tok := range strings.Split(payload, "/") {
		if tok == "" {
			continue
		}
		idx := strings.Index(tok, "@=")
		if idx < 0 {
			continue
		}
		key := tok[:idx]
		val := tok[idx+2:]
		m[key] = Unescape(val)
	}
	return m
}

// frameTerminator marks the end of a payload body inside a frame.
const frameTerminator = 0x00

// headerLen is the fixed-size binary frame header: a big-endian uint32
// prefix holding the body length (payload plus terminator, header not
// counted), mirroring Douyu's length-prefixed framing.
const headerLen = 4

// Pack emits one complete frame for payload: a 4-byte big-endian length
// prefix (covering the body and terminator) followed by payload bytes and a
// trailing NUL terminator.
func Pack(payload string) []byte {
	body := make([]byte, 0, len(payload)+1)
	body = append(body, payload...)
	body = append(body, frameTerminator)

	frame := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(frame[:headerLen], uint32(len(body)))
	copy(frame[headerLen:], body)
	return frame
}

// IterPayloads parses every complete frame among the zero or more
// concatenated frames in buf in one pass (not lazily), returning all
// decoded payload strings at once and the number of bytes consumed.
// It is safe to call on a partial trailing frame: unconsumed bytes are
// reported via the consumed count so the caller can retain them for the
// next read. Malformed frames (length prefix that does not terminate with
// frameTerminator at the declared boundary) are skipped and counted via the
// returned malformed count so they do not wedge the parser.
func IterPayloads(buf []byte) (payloads []string, consumed int, malformed int) {
	for {
		remaining := buf[consumed:]
		if len(remaining) < headerLen {
			return payloads, consumed, malformed
		}
		bodyLen := int(binary.BigEndian.Uint32(remaining[:headerLen]))
		if bodyLen <= 0 {
			// Cannot make forward progress on a degenerate length; drop the
			// header and keep scanning so one bad frame doesn't wedge the
			// buffer forever.
			consumed += headerLen
			malformed++
			continue
		}
		frameTotal := headerLen + bodyLen
		if len(remaining) < frameTotal {
			return payloads, consumed, malformed
		}
		body := remaining[headerLen:frameTotal]
		consumed += frameTotal
		if len(body) == 0 || body[len(body)-1] != frameTerminator {
			malformed++
			continue
		}
		payloads = append(payloads, string(body[:len(body)-1]))
	}
}
