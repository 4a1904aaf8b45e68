// Package segment implements the voice-activity segmenter: it classifies
// fixed-duration sub-frames of PCM as voiced or unvoiced and applies
// hysteresis, pre-roll/post-roll, short-gap merging and minimum-duration /
// minimum-amplitude filtering to turn the continuous mic stream into
// discrete utterance segments (SPEC_FULL.md §4.3).
package segment

import (
	"log/slog"
	"math"
)

const sampleRate = 16000

// Classifier decides whether one sub-frame of PCM is voiced. The default
// Classifier is energy-based; a model-backed implementation can be
// substituted without changing the segmenter's hysteresis logic.
type Classifier interface {
	IsVoiced(subframe []int16) bool
}

// EnergyClassifier classifies a sub-frame voiced when its mean absolute
// amplitude is at least Threshold. This trades model accuracy for zero runtime
// dependencies on the host, appropriate for a bridge whose VAD work is a
// coarse segmentation gate, not the final speech/non-speech decision —
// that judgment is made downstream by the recognizer itself.
type EnergyClassifier struct {
	Threshold float64
}

func (c EnergyClassifier) IsVoiced(subframe []int16) bool {
	return meanAbs(subframe) >= c.Threshold
}

func meanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// Params configures the hysteresis and filtering policy (SPEC_FULL.md
// §4.3). Defaults match spec.md §4.3.
type Params struct {
	SubFrameDurationMs int     // default 20
	StartTriggerFrames int     // default 3
	StopTriggerFrames  int     // default 20
	MinGapFrames       int     // default 3 (~60ms at 20ms sub-frames)
	PreRollMs          int     // default 200
	PostRollMs         int     // default 200
	MinSegmentDuration float64 // seconds, default 0.2
	MinSegmentMeanAbs  float64 // amplitude floor for the completed segment
}

// DefaultParams returns the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		SubFrameDurationMs: 20,
		StartTriggerFrames: 3,
		StopTriggerFrames:  20,
		MinGapFrames:       3,
		PreRollMs:          200,
		PostRollMs:         200,
		MinSegmentDuration: 0.2,
		MinSegmentMeanAbs:  0,
	}
}

func (p Params) subFrameSamples() int {
	return sampleRate * p.SubFrameDurationMs / 1000
}

func (p Params) preRollSamples() int {
	return sampleRate * p.PreRollMs / 1000
}

func (p Params) postRollSamples() int {
	return sampleRate * p.PostRollMs / 1000
}

type vadState int

const (
	stateSilence vadState = iota
	stateVoiced
)

// Segment is a half-open [Start, End) sample-index range (SPEC_FULL.md §3).
type Segment struct {
	Start int
	End   int
}

// Duration reports the segment's length in seconds at the fixed 16kHz rate.
func (s Segment) Duration() float64 {
	return float64(s.End-s.Start) / float64(sampleRate)
}

// WindowFunc returns the PCM samples for [start, end) from the owning
// RollingBuffer, so the Segmenter never imports the ingest package
// directly.
type WindowFunc func(start, end int) ([]int16, error)

// Segmenter applies voice-activity hysteresis over a stream of sub-frames
// pulled from a WindowFunc. It is driven by Feed, called once per arriving
// AudioFrame with the buffer's highest delivered sample index; it is not safe for
// concurrent use, matching its single-reader role between the rolling
// buffer's writer and the session controller (SPEC_FULL.md §5).
type Segmenter struct {
	params     Params
	classifier Classifier
	window     WindowFunc
	logger     *slog.Logger

	state vadState

	// Hysteresis counters, reset whenever the opposite classification is seen.
	consecutiveVoiced   int
	consecutiveUnvoiced int

	// voicedStart is the sample index of the first voiced sub-frame of the
	// current run (valid only while state == stateVoiced).
	voicedStart int

	// pendingEnd holds a just-closed segment's provisional End, awaiting
	// the min-gap merge decision on the next SegmentStart, or finalization
	// by drainPendingIfGapElapsed once MinGapFrames sub-frames have passed.
	pendingEnd *Segment

	// next is the absolute sample index of the next sub-frame to classify.
	next int
}

// New constructs a Segmenter. window provides PCM for arbitrary absolute
// sample ranges still resident in the rolling buffer.
func New(params Params, classifier Classifier, window WindowFunc, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		params:     params,
		classifier: classifier,
		window:     window,
		logger:     logger,
		state:      stateSilence,
	}
}

// Feed classifies every complete sub-frame available up to highest
// (exclusive) and returns the Segments that completed filtering in this
// call, in order. A Segment is returned only after pre-roll/post-roll,
// gap-merge and minimum-duration/amplitude filtering has all been applied;
// callers never see a provisional boundary.
func (s *Segmenter) Feed(highest int) ([]Segment, error) {
	var completed []Segment
	subframe := s.params.subFrameSamples()

	for s.next+subframe <= highest {
		samples, err := s.window(s.next, s.next+subframe)
		if err != nil {
			return completed, err
		}

		voiced := s.classifier.IsVoiced(samples)
		start, end, ok, err := s.step(voiced)
		if err != nil {
			return completed, err
		}
		if ok {
			completed = append(completed, Segment{Start: start, End: end})
		}

		s.next += subframe

		if pstart, pend, pok, perr := s.drainPendingIfGapElapsed(); perr != nil {
			return completed, perr
		} else if pok {
			completed = append(completed, Segment{Start: pstart, End: pend})
		}
	}

	return completed, nil
}

// drainPendingIfGapElapsed finalizes a segment left in pendingEnd once
// MinGapFrames sub-frames have passed since it closed with no further
// voice onset to merge into it. Without this, a pending segment is only
// ever resolved by the next SegmentStart's merge check or by Flush, so the
// common case of one utterance followed by silence and nothing else would
// never surface a segment at all (SPEC_FULL.md §4.3, §8 Scenario 1).
func (s *Segmenter) drainPendingIfGapElapsed() (int, int, bool, error) {
	if s.pendingEnd == nil {
		return 0, 0, false, nil
	}
	subframe := s.params.subFrameSamples()
	gapFrames := (s.next - s.pendingEnd.End) / subframe
	if gapFrames < s.params.MinGapFrames {
		return 0, 0, false, nil
	}
	final := *s.pendingEnd
	s.pendingEnd = nil
	return s.filter(final)
}

// step advances the hysteresis state machine by one classified sub-frame
// and returns a finalized, filtered segment when one closes.
func (s *Segmenter) step(voiced bool) (start, end int, ok bool, err error) {
	subframe := s.params.subFrameSamples()

	if voiced {
		s.consecutiveUnvoiced = 0
		s.consecutiveVoiced++

		if s.state == stateSilence && s.consecutiveVoiced >= s.params.StartTriggerFrames {
			firstVoiced := s.next - (s.params.StartTriggerFrames-1)*subframe
			s.state = stateVoiced
			s.voicedStart = firstVoiced
			return s.openSegment(firstVoiced)
		}
		return 0, 0, false, nil
	}

	s.consecutiveVoiced = 0
	s.consecutiveUnvoiced++

	if s.state == stateVoiced && s.consecutiveUnvoiced >= s.params.StopTriggerFrames {
		s.state = stateSilence
		lastVoiced := s.next - (s.params.StopTriggerFrames-1)*subframe
		return s.closeSegment(lastVoiced)
	}

	return 0, 0, false, nil
}

// openSegment records or merges a just-triggered SegmentStart. If a prior
// segment is pending merge and the gap to this start is within
// MinGapFrames sub-frames, the two are merged by dropping the pending
// SegmentEnd/SegmentStart pair (SPEC_FULL.md §4.3); nothing is emitted yet
// either way, since emission happens only when the segment later closes.
func (s *Segmenter) openSegment(rawStart int) (int, int, bool, error) {
	subframe := s.params.subFrameSamples()
	preRoll := s.params.preRollSamples()

	if s.pendingEnd != nil {
		gapFrames := (rawStart - s.pendingEnd.End) / subframe
		if gapFrames < s.params.MinGapFrames {
			// Merge: resume the pending segment instead of starting a new one.
			s.voicedStart = s.pendingEnd.Start
			s.pendingEnd = nil
			return 0, 0, false, nil
		}
		// Gap too large to merge: the pending segment is final. Flush it
		// through filtering before starting the new one.
		final := *s.pendingEnd
		s.pendingEnd = nil
		adjustedStart := clampStart(rawStart, preRoll)
		s.voicedStart = adjustedStart
		return s.filter(final)
	}

	s.voicedStart = clampStart(rawStart, preRoll)
	return 0, 0, false, nil
}

func clampStart(rawStart, preRoll int) int {
	adjusted := rawStart - preRoll
	if adjusted < 0 {
		adjusted = 0
	}
	return adjusted
}

// closeSegment marks the current run's provisional end and holds it
// pending a possible merge with whatever comes next; it is only filtered
// and returned once no merge can apply: Feed's drainPendingIfGapElapsed
// after MinGapFrames sub-frames, a subsequent openSegment gap check, or
// Flush.
func (s *Segmenter) closeSegment(lastVoiced int) (int, int, bool, error) {
	postRoll := s.params.postRollSamples()
	end := lastVoiced + postRoll

	s.pendingEnd = &Segment{Start: s.voicedStart, End: end}
	return 0, 0, false, nil
}

// Flush finalizes any segment left pending at end of stream (e.g. session
// shutdown while mid-utterance).
func (s *Segmenter) Flush() (Segment, bool, error) {
	if s.pendingEnd == nil {
		return Segment{}, false, nil
	}
	final := *s.pendingEnd
	s.pendingEnd = nil
	start, end, ok, err := s.filter(final)
	return Segment{Start: start, End: end}, ok, err
}

// filter applies minimum-duration and minimum-mean-amplitude rejection to
// a finalized segment before it is surfaced to the caller.
func (s *Segmenter) filter(seg Segment) (int, int, bool, error) {
	if seg.Duration() < s.params.MinSegmentDuration {
		s.logger.Debug("segment discarded below minimum duration", "duration_s", seg.Duration())
		return 0, 0, false, nil
	}

	if s.params.MinSegmentMeanAbs > 0 {
		samples, err := s.window(seg.Start, seg.End)
		if err != nil {
			return 0, 0, false, err
		}
		if meanAbs(samples) < s.params.MinSegmentMeanAbs {
			s.logger.Debug("segment discarded below minimum amplitude", "start", seg.Start, "end", seg.End)
			return 0, 0, false, nil
		}
	}

	return seg.Start, seg.End, true, nil
}
