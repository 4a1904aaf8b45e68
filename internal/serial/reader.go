package serial

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// LineHandler and FrameHandler are invoked synchronously from Reader.Run's
// goroutine for each decoded unit, in arrival order.
type (
	LineHandler  func(line string)
	FrameHandler func(frame AudioFrame)
)

// FramingErrorHandler is invoked once per resynchronization per
// SPEC_FULL.md §4.1/§8 P5.
type FramingErrorHandler func(reason string)

// Reader demultiplexes the device's mixed ASCII-line/binary-frame stream.
// It never blocks on anything but its own Read calls, so stage work
// downstream never stalls frame delivery (SPEC_FULL.md §5).
type Reader struct {
	src *bufio.Reader

	onLine    LineHandler
	onFrame   FrameHandler
	onFraming FramingErrorHandler

	logger *slog.Logger
}

// NewReader constructs a Reader over src.
func NewReader(src io.Reader, onLine LineHandler, onFrame FrameHandler, onFraming FramingErrorHandler, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		src:       bufio.NewReaderSize(src, 64*1024),
		onLine:    onLine,
		onFrame:   onFrame,
		onFraming: onFraming,
		logger:    logger,
	}
}

// Run reads until src returns an error (typically io.EOF on device close).
// It scans byte-by-byte: every byte other than a newline accumulates into
// the current line; a
// byte matching the magic constant's first byte peeks ahead at the
// remaining header bytes without consuming them (SPEC_FULL.md §4.1, §8
// P5). Only a header that fully validates is discarded from src and
// decoded as a frame. Anything else is left untouched in src and falls
// through to the ordinary line-accumulation path below, so a byte that
// merely collides with the magic's first byte mid-line — both "READY"
// and "PLAYBACK_DONE" contain one — never costs the bytes already read
// for that line or the bytes peeked for the failed attempt.
func (r *Reader) Run() error {
	var line []byte

	for {
		b, err := r.src.ReadByte()
		if err != nil {
			return err
		}

		if b == '\n' {
			r.emitLine(line)
			line = line[:0]
			continue
		}

		if b == byte(magic) {
			frame, ok, ferr := r.tryReadFrame(b)
			if ferr != nil {
				r.reportFraming(ferr.Error())
				line = append(line, b)
				continue
			}
			if ok {
				if r.onFrame != nil {
					r.onFrame(frame)
				}
				continue
			}
		}

		line = append(line, b)
	}
}

func (r *Reader) emitLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if r.onLine != nil {
		r.onLine(string(line))
	}
}

func (r *Reader) reportFraming(reason string) {
	if r.onFraming != nil {
		r.onFraming(reason)
	}
	r.logger.Warn("framing_error", "reason", reason)
}

// tryReadFrame peeks at the headerLen-1 bytes following first (first was
// already consumed from src by Run) without committing to them. Only once
// the full header validates does it Discard the peeked bytes and read the
// payload; any validation failure leaves src untouched, so the rejected
// bytes remain available to be rescanned one at a time as ordinary ASCII
// content by Run (SPEC_FULL.md §4.1, §8 P5).
func (r *Reader) tryReadFrame(first byte) (frame AudioFrame, ok bool, err error) {
	rest, perr := r.src.Peek(headerLen - 1)
	if perr != nil {
		return AudioFrame{}, false, fmt.Errorf("short header peek: %w", perr)
	}

	header := make([]byte, headerLen)
	header[0] = first
	copy(header[1:], rest)

	gotMagic := binary.LittleEndian.Uint32(header[0:4])
	if gotMagic != magic {
		return AudioFrame{}, false, fmt.Errorf("magic mismatch: got %#x", gotMagic)
	}

	version := header[4]
	frameType := header[5]
	if version != frameVersion || frameType != frameTypeAudio {
		return AudioFrame{}, false, fmt.Errorf("unsupported version=%d type=%d", version, frameType)
	}

	payloadLen := int(binary.LittleEndian.Uint32(header[8:12]))
	if payloadLen == 0 || payloadLen > maxPayloadBytes {
		return AudioFrame{}, false, fmt.Errorf("malformed payload length %d", payloadLen)
	}

	if _, derr := r.src.Discard(headerLen - 1); derr != nil {
		return AudioFrame{}, false, fmt.Errorf("short header read: %w", derr)
	}

	payload := make([]byte, payloadLen)
	if _, rerr := io.ReadFull(r.src, payload); rerr != nil {
		return AudioFrame{}, false, fmt.Errorf("short payload read: %w", rerr)
	}

	return AudioFrame{
		ReceivedAt:  time.Now(),
		SampleCount: payloadLen / 2,
		PCM:         payload,
	}, true, nil
}
