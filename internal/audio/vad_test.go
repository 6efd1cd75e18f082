package audio

import "testing"

func loudFrame() []byte {
	frame := make([]byte, FrameBytes)
	for i := 0; i < FrameSamples; i++ {
		v := int16(20000)
		frame[i*2] = byte(v)
		frame[i*2+1] = byte(v >> 8)
	}
	return frame
}

func quietFrame() []byte {
	return make([]byte, FrameBytes) // all zero samples -> -100dB
}

func TestVADRejectsWrongFrameSize(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	_, err := v.ProcessFrame(make([]byte, 100))
	var sizeErr *FrameSizeError
	if err == nil {
		t.Fatal("expected FrameSizeError")
	}
	if !asFrameSizeError(err, &sizeErr) {
		t.Fatalf("expected *FrameSizeError, got %T", err)
	}
}

func asFrameSizeError(err error, target **FrameSizeError) bool {
	fe, ok := err.(*FrameSizeError)
	if ok {
		*target = fe
	}
	return ok
}

func TestVADClosedRejectsCalls(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	v.Close()
	_, err := v.ProcessFrame(loudFrame())
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestVADFewerThanFiveSpeechFramesNeverFlips(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.CalibrationFrames = 0
	v := NewVAD(cfg)
	for i := 0; i < 4; i++ {
		changed, err := v.ProcessFrame(loudFrame())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if changed {
			t.Fatalf("frame %d unexpectedly flipped speech_active", i)
		}
	}
	if v.SpeechActive() {
		t.Fatal("speech_active should still be false after 4 frames")
	}
}

func TestVADExactlyFiveSpeechFramesFlips(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.CalibrationFrames = 0
	v := NewVAD(cfg)
	var changed bool
	for i := 0; i < 5; i++ {
		var err error
		changed, err = v.ProcessFrame(loudFrame())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !changed {
		t.Fatal("expected the 5th consecutive speech frame to report a change")
	}
	if !v.SpeechActive() {
		t.Fatal("speech_active should be true after 5 consecutive speech frames")
	}
}

func TestVADSilenceEndsSpeechAfterTwentyFrames(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.CalibrationFrames = 0
	v := NewVAD(cfg)
	for i := 0; i < 5; i++ {
		if _, err := v.ProcessFrame(loudFrame()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !v.SpeechActive() {
		t.Fatal("expected speech active")
	}
	var changed bool
	for i := 0; i < 20; i++ {
		var err error
		changed, err = v.ProcessFrame(quietFrame())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !changed || v.SpeechActive() {
		t.Fatal("expected speech_active to flip false after 20 silence frames")
	}
}

func TestVADResetClearsHysteresis(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.CalibrationFrames = 0
	v := NewVAD(cfg)
	for i := 0; i < 3; i++ {
		v.ProcessFrame(loudFrame())
	}
	v.Reset()
	if v.consecutiveSpeechFrames != 0 {
		t.Fatal("expected reset to clear consecutive speech frames")
	}
}
