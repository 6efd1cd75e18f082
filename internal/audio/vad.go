package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSizeError is returned when ProcessFrame receives a frame that is not
// exactly FrameBytes long.
type FrameSizeError struct {
	Got int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("vad: frame must be %d bytes, got %d", FrameBytes, e.Got)
}

// ErrClosed is returned by any VAD method called after Close.
var ErrClosed = errors.New("vad: closed")

const (
	// SampleRate is the fixed input rate the frame size below assumes.
	SampleRate = 16000
	// FrameDurationMs is the fixed frame duration the gateway contract requires.
	FrameDurationMs = 30
	// FrameSamples is samples per frame at SampleRate/FrameDurationMs (480).
	FrameSamples = SampleRate * FrameDurationMs / 1000
	// FrameBytes is bytes per frame, 16-bit mono PCM (960).
	FrameBytes = FrameSamples * 2

	startFrames = 5  // ~150ms of consecutive speech flips speech_active true
	endFrames   = 20 // ~600ms of consecutive silence flips speech_active false
)

// aggressivenessMarginDB maps a WebRTC-style aggressiveness level (0..3) to
// a dB margin above the noise floor required to classify a frame as speech.
// Higher aggressiveness requires a larger margin, i.e. is less permissive.
var aggressivenessMarginDB = [4]float64{6, 10, 14, 20}

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	Aggressiveness    int     // 0..3
	StaticThresholdDB float64 // used until calibration completes, and as a floor
	CalibrationFrames int     // number of frames to average for the noise floor; 0 disables adaptation
}

// DefaultVADConfig returns the spec's default thresholds.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Aggressiveness:    1,
		StaticThresholdDB: -45,
		CalibrationFrames: 16, // ~480ms
	}
}

// VAD is a hysteretic frame-count state machine over a per-frame energy
// classifier. At most one state change (speech start or speech end) is ever
// reported per call to ProcessFrame.
type VAD struct {
	cfg    VADConfig
	closed bool

	speechActive             bool
	consecutiveSpeechFrames  int
	consecutiveSilenceFrames int

	threshold float64

	calibrating       bool
	calibrationReads  []float64
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	if cfg.Aggressiveness < 0 {
		cfg.Aggressiveness = 0
	}
	if cfg.Aggressiveness > 3 {
		cfg.Aggressiveness = 3
	}
	return &VAD{
		cfg:         cfg,
		threshold:   cfg.StaticThresholdDB,
		calibrating: cfg.CalibrationFrames > 0,
	}
}

// ProcessFrame classifies one fixed-size PCM frame and advances the
// hysteresis state machine. changed reports whether speech_active flipped.
func (v *VAD) ProcessFrame(frame []byte) (changed bool, err error) {
	if v.closed {
		return false, ErrClosed
	}
	if len(frame) != FrameBytes {
		return false, &FrameSizeError{Got: len(frame)}
	}

	samples := decodeInt16(frame)
	energyDB := computeEnergyDB(samples)

	if v.calibrating {
		v.calibrate(energyDB)
	}

	margin := aggressivenessMarginDB[v.cfg.Aggressiveness]
	isSpeechFrame := energyDB >= v.threshold+margin

	if isSpeechFrame {
		v.consecutiveSilenceFrames = 0
		v.consecutiveSpeechFrames++
		if !v.speechActive && v.consecutiveSpeechFrames >= startFrames {
			v.speechActive = true
			return true, nil
		}
		return false, nil
	}

	v.consecutiveSpeechFrames = 0
	v.consecutiveSilenceFrames++
	if v.speechActive && v.consecutiveSilenceFrames >= endFrames {
		v.speechActive = false
		return true, nil
	}
	return false, nil
}

// Reset clears all hysteresis state but keeps the calibrated threshold.
func (v *VAD) Reset() {
	v.speechActive = false
	v.consecutiveSpeechFrames = 0
	v.consecutiveSilenceFrames = 0
}

// Close marks the VAD unusable; subsequent calls return ErrClosed.
func (v *VAD) Close() {
	v.closed = true
}

// SpeechActive reports the current hysteresis state.
func (v *VAD) SpeechActive() bool {
	return v.speechActive
}

func (v *VAD) calibrate(energyDB float64) {
	v.calibrationReads = append(v.calibrationReads, energyDB)
	if len(v.calibrationReads) < v.cfg.CalibrationFrames {
		return
	}
	var sum float64
	for _, e := range v.calibrationReads {
		sum += e
	}
	noiseFloor := sum / float64(len(v.calibrationReads))
	if noiseFloor > v.threshold {
		v.threshold = noiseFloor
	}
	v.calibrating = false
	v.calibrationReads = nil
}

func decodeInt16(frame []byte) []int16 {
	samples := make([]int16, len(frame)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return samples
}

func computeEnergyDB(samples []int16) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-6 {
		return -100
	}
	return 20 * math.Log10(rms/32768.0)
}
