// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package chatcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain text",
		"has@at",
		"has/slash",
		"both@and/mixed@@//",
		"你好，弹幕@世界/测试",
		"@@@@////",
	}
	for _, s := range cases {
		got := Unescape(Escape(s))
		assert.Equal(t, s, got, "round trip for %q", s)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	m := Payload{
		"type": "chatmsg",
		"txt":  "hello/world@friend",
		"rid":  "12345",
		"nn":   "用户@名",
	}
	encoded := Encode(m)
	parsed := Parse(encoded)
	assert.Equal(t, m, parsed)
}

func TestParseIgnoresTokensWithoutSeparator(t *testing.T) {
	parsed := Parse("type@=chatmsg/garbage/rid@=1/")
	assert.Equal(t, "chatmsg", parsed["type"])
	assert.Equal(t, "1", parsed["rid"])
	_, ok := parsed["garbage"]
	assert.False(t, ok)
}

func TestParseMissingKeyIsAbsent(t *testing.T) {
	parsed := Parse("type@=chatmsg/")
	_, ok := parsed["txt"]
	assert.False(t, ok)
}

func TestPackAndIterPayloadsSingleFrame(t *testing.T) {
	frame := Pack("type@=loginreq/roomid@=123/")
	payloads, consumed, malformed := IterPayloads(frame)
	require.Len(t, payloads, 1)
	assert.Equal(t, len(frame), consumed)
	assert.Zero(t, malformed)
	assert.Equal(t, "type@=loginreq/roomid@=123/", payloads[0])
}

func TestIterPayloadsConcatenatedFrames(t *testing.T) {
	var buf []byte
	buf = append(buf, Pack("a@=1/")...)
	buf = append(buf, Pack("b@=2/")...)
	buf = append(buf, Pack("c@=3/")...)

	payloads, consumed, malformed := IterPayloads(buf)
	require.Len(t, payloads, 3)
	assert.Equal(t, len(buf), consumed)
	assert.Zero(t, malformed)
	assert.Equal(t, []string{"a@=1/", "b@=2/", "c@=3/"}, payloads)
}

func TestIterPayloadsPartialTrailingBytesRetained(t *testing.T) {
	full := Pack("a@=1/")
	partial := append(full, []byte{0x00, 0x00, 0x01}...) // incomplete next header+body

	payloads, consumed, _ := IterPayloads(partial)
	require.Len(t, payloads, 1)
	assert.Equal(t, len(full), consumed, "only the complete frame is consumed")
	assert.Less(t, consumed, len(partial))
}

func TestIterPayloadsSkipsMalformedFrameAndContinues(t *testing.T) {
	good1 := Pack("a@=1/")
	// Malformed: length prefix claims a body that doesn't end in the NUL
	// terminator at the declared boundary.
	bad := make([]byte, 4)
	bad[3] = 3
	bad = append(bad, []byte("xyz")...) // no NUL terminator at the end
	good2 := Pack("b@=2/")

	var buf []byte
	buf = append(buf, good1...)
	buf = append(buf, bad...)
	buf = append(buf, good2...)

	payloads, consumed, malformed := IterPayloads(buf)
	assert.Equal(t, []string{"a@=1/", "b@=2/"}, payloads)
	assert.Equal(t, 1, malformed)
	assert.Equal(t, len(buf), consumed)
}

func TestIterPayloadsEmptyBuffer(t *testing.T) {
	payloads, consumed, malformed := IterPayloads(nil)
	assert.Nil(t, payloads)
	assert.Zero(t, consumed)
	assert.Zero(t, malformed)
}
