package app

import (
	"encoding/binary"
	"testing"

	"github.com/joeyverbeke/gradi-mediation/internal/ingest"
	"github.com/joeyverbeke/gradi-mediation/internal/segment"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
	"github.com/joeyverbeke/gradi-mediation/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	events []session.Event
}

func (f *fakeEnqueuer) Enqueue(ev session.Event) {
	f.events = append(f.events, ev)
}

func newTestBridge(t *testing.T, controller enqueuer) *readerBridge {
	t.Helper()

	buffer := ingest.NewRollingBuffer(16000, nil)
	ingestor := ingest.New(buffer, nil)
	params := segment.Params{
		SubFrameDurationMs: 20,
		StartTriggerFrames: 1,
		StopTriggerFrames:  1,
		MinGapFrames:       1,
		PreRollMs:          0,
		PostRollMs:         0,
		MinSegmentDuration: 0,
		MinSegmentMeanAbs:  0,
	}
	classifier := segment.EnergyClassifier{Threshold: 1}
	segmenter := segment.New(params, classifier, buffer.Window, nil)

	return newReaderBridge(ingestor, segmenter, buffer, controller, nil)
}

func pcmFrame(samples int, amplitude int16) serial.AudioFrame {
	payload := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(amplitude))
	}
	return serial.AudioFrame{PCM: payload}
}

func TestOnFrameFeedsSegmenterAndEmitsStartThenEnd(t *testing.T) {
	controller := &fakeEnqueuer{}
	bridge := newTestBridge(t, controller)

	// Voiced then silent frames to force a completed segment: start
	// trigger on the first loud sub-frame, stop trigger on the first
	// quiet one after the minimum gap.
	bridge.onFrame(pcmFrame(320, 30000))
	bridge.onFrame(pcmFrame(320, 30000))
	bridge.onFrame(pcmFrame(320, 0))
	bridge.onFrame(pcmFrame(320, 0))

	// With StopTriggerFrames=1 and MinGapFrames=1, the close and its gap
	// check both resolve on the third frame, with no further utterance
	// needed to surface the completed segment.
	require.Len(t, controller.events, 2)
	require.Equal(t, session.KindSegmentStart, controller.events[0].Kind)
	require.Equal(t, session.KindSegmentEnd, controller.events[1].Kind)
}

func TestOnFrameMalformedPayloadIsDroppedNotPanicked(t *testing.T) {
	controller := &fakeEnqueuer{}
	bridge := newTestBridge(t, controller)

	require.NotPanics(t, func() {
		bridge.onFrame(serial.AudioFrame{PCM: []byte{0x01}})
	})
}

func TestOnLineForwardsDeviceLineAndPlaybackAck(t *testing.T) {
	controller := &fakeEnqueuer{}
	bridge := newTestBridge(t, controller)

	bridge.onLine("READY")
	require.Len(t, controller.events, 1)
	require.Equal(t, session.KindDeviceLine, controller.events[0].Kind)
	require.Equal(t, "READY", controller.events[0].Line)

	bridge.onLine(serial.LinePlaybackDone)
	require.Len(t, controller.events, 3)
	require.Equal(t, session.KindDeviceLine, controller.events[1].Kind)
	require.Equal(t, session.KindPlaybackAck, controller.events[2].Kind)
}

func TestOnFramingDoesNotPanic(t *testing.T) {
	controller := &fakeEnqueuer{}
	bridge := newTestBridge(t, controller)

	require.NotPanics(t, func() { bridge.onFraming("magic mismatch") })
}
