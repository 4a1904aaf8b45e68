// Package serial implements the duplex framed transport over the device's
// USB CDC endpoint: a continuously arriving binary mic frame stream
// interleaved with ASCII control/acknowledgement lines (SPEC_FULL.md §4.1).
package serial

import "time"

// BaudRate is the fixed bit-exact link speed per SPEC_FULL.md §6.
const BaudRate = 921600

// Wire format constants for the 12-byte inbound audio frame header.
const (
	magic           uint32 = 0x30445541 // little-endian "AUD0"
	frameVersion    byte   = 0x01
	frameTypeAudio  byte   = 0x01
	headerLen       int    = 12
	maxPayloadBytes int    = 64 * 1024 // sanity ceiling; spec.md §4.1
)

// Outbound commands, newline-terminated (SPEC_FULL.md §6).
const (
	CmdResume = "RESUME\n"
	CmdPause  = "PAUSE\n"
	CmdState  = "STATE?\n"
	CmdEnd    = "END\n"
)

// Recognized inbound lines (SPEC_FULL.md §4.1).
const (
	LineReady          = "READY"
	LinePlaybackDone   = "PLAYBACK_DONE"
	LineStateStreaming = "STATE STREAMING"
	LinePresenceOn     = "PRESENCE ON"
	LinePresenceOff    = "PRESENCE OFF"
)

// PlaybackChunkBytes bounds a single outbound playback write so the
// device's receive DMA is not starved and the host's send buffer does not
// overflow (SPEC_FULL.md §4.1, ~1 KiB at a time).
const PlaybackChunkBytes = 1024

// AudioFrame is one unit of inbound binary audio (SPEC_FULL.md §3).
type AudioFrame struct {
	ReceivedAt  time.Time
	SampleCount int
	PCM         []byte // 16-bit signed little-endian mono PCM payload
}
