package detector

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestFaceLandmarks_Translate(t *testing.T) {
	t.Run("shifts every point", func(t *testing.T) {
		face := NeutralFace()
		moved := face.Translate(0.1, -0.2, 0.05)

		for _, idx := range []int{NoseTip, ForeheadCenter, ChinCenter, LeftEyeOuter, RightEyeOuter} {
			if math.Abs(moved.Points[idx].X-face.Points[idx].X-0.1) > 1e-12 {
				t.Errorf("landmark %d X not shifted", idx)
			}
			if math.Abs(moved.Points[idx].Y-face.Points[idx].Y+0.2) > 1e-12 {
				t.Errorf("landmark %d Y not shifted", idx)
			}
		}
		if moved.Score != face.Score {
			t.Errorf("expected score %f, got %f", face.Score, moved.Score)
		}
	})

	t.Run("original is untouched", func(t *testing.T) {
		face := NeutralFace()
		before := face.Points[NoseTip]
		face.Translate(1, 1, 1)
		if face.Points[NoseTip] != before {
			t.Error("Translate mutated the receiver")
		}
	})

	t.Run("nil face returns nil", func(t *testing.T) {
		var face *FaceLandmarks
		if face.Translate(1, 1, 1) != nil {
			t.Error("expected nil result for nil input")
		}
	})
}

func TestMockDetector(t *testing.T) {
	t.Run("returns no face by default", func(t *testing.T) {
		mock := NewMockDetector()

		face, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if face != nil {
			t.Errorf("expected nil face, got %v", face)
		}
	})

	t.Run("returns configured face", func(t *testing.T) {
		mock := NewMockDetector()
		want := NeutralFace()
		mock.SetFace(want)

		for i := 0; i < 3; i++ {
			face, err := mock.Detect(nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if face != want {
				t.Fatalf("call %d: expected configured face", i)
			}
		}
		if mock.Calls() != 3 {
			t.Errorf("expected 3 calls, got %d", mock.Calls())
		}
	})

	t.Run("plays sequence then reports misses", func(t *testing.T) {
		mock := NewMockDetector()
		a, b := NeutralFace(), NeutralFace()
		mock.SetSequence([]*FaceLandmarks{a, nil, b})

		got := make([]*FaceLandmarks, 0, 4)
		for i := 0; i < 4; i++ {
			face, err := mock.Detect(nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, face)
		}

		if got[0] != a || got[1] != nil || got[2] != b || got[3] != nil {
			t.Errorf("unexpected sequence playback: %v", got)
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()

		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		face, err := mock.Detect(nil)

		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if face != nil {
			t.Errorf("expected nil face when error is set, got %v", face)
		}
	})

	t.Run("Close returns nil", func(t *testing.T) {
		if err := NewMockDetector().Close(); err != nil {
			t.Errorf("expected Close to return nil, got %v", err)
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
		var _ Detector = (*MediaPipeDetector)(nil)
	})
}

func spread(frames []*FaceLandmarks, idx int, axis func(Point3D) float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, f := range frames {
		v := axis(f.Points[idx])
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

func TestSynthesize(t *testing.T) {
	p := DefaultMotionParams()
	x := func(pt Point3D) float64 { return pt.X }
	y := func(pt Point3D) float64 { return pt.Y }

	t.Run("nod moves vertically", func(t *testing.T) {
		frames := Synthesize(MotionNod, 30, nil, p, nil)
		if len(frames) != 30 {
			t.Fatalf("expected 30 frames, got %d", len(frames))
		}
		if s := spread(frames, NoseTip, y); s < p.Amplitude {
			t.Errorf("nose vertical spread %f, want >= %f", s, p.Amplitude)
		}
		if s := spread(frames, NoseTip, x); s > 1e-9 {
			t.Errorf("nose horizontal spread %f, want 0", s)
		}
	})

	t.Run("shake moves horizontally", func(t *testing.T) {
		frames := Synthesize(MotionShake, 30, nil, p, nil)
		if s := spread(frames, NoseTip, x); s < p.Amplitude {
			t.Errorf("nose horizontal spread %f, want >= %f", s, p.Amplitude)
		}
		if s := spread(frames, NoseTip, y); s > 1e-9 {
			t.Errorf("nose vertical spread %f, want 0", s)
		}
	})

	t.Run("still only jitters", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		frames := Synthesize(MotionStill, 30, nil, p, rng)
		if s := spread(frames, NoseTip, y); s > 20*p.Noise {
			t.Errorf("still vertical spread %f too large", s)
		}
	})

	t.Run("same seed is reproducible", func(t *testing.T) {
		a := Synthesize(MotionNod, 5, nil, p, rand.New(rand.NewPCG(7, 7)))
		b := Synthesize(MotionNod, 5, nil, p, rand.New(rand.NewPCG(7, 7)))
		for i := range a {
			if a[i].Points != b[i].Points {
				t.Fatalf("frame %d differs", i)
			}
		}
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("no faces", func(t *testing.T) {
		face, err := parseResponse([]byte(`{"faces":[]}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if face != nil {
			t.Error("expected nil face")
		}
	})

	t.Run("service error", func(t *testing.T) {
		if _, err := parseResponse([]byte(`{"error":"boom"}`)); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("short mesh rejected", func(t *testing.T) {
		if _, err := parseResponse([]byte(`{"faces":[{"points":[{"x":1,"y":2,"z":3}],"score":0.9}]}`)); err == nil {
			t.Error("expected error for truncated mesh")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := parseResponse([]byte(`{`)); err == nil {
			t.Error("expected error")
		}
	})
}
