package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/store"
)

// uniformModel scores 1/3 per class for every sequence.
func uniformModel(t *testing.T) *model.Model {
	t.Helper()
	net, err := model.NewNetwork(model.Architecture{
		SequenceLength: 15,
		InputDim:       9,
		LSTMUnits:      []int{4},
		NumClasses:     3,
	}, nil)
	if err != nil {
		t.Fatalf("NewNetwork() error = %v", err)
	}
	m, err := model.New(net, model.Metadata{Layout: features.MotionLayoutID, Labels: dataset.DefaultLabels()})
	if err != nil {
		t.Fatalf("model.New() error = %v", err)
	}
	return m
}

func sequenceJSON(length, dim int) string {
	frame := "[" + strings.TrimSuffix(strings.Repeat("0.5,", dim), ",") + "]"
	return `{"sequence":[` + strings.TrimSuffix(strings.Repeat(frame+",", length), ",") + `]}`
}

func TestPredictHandler(t *testing.T) {
	h := NewPredictHandler(uniformModel(t), 0.3, nil)

	t.Run("valid sequence", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(sequenceJSON(15, 9)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp predictResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if !resp.Success || resp.Gesture != "YES" || !resp.Decided {
			t.Errorf("unexpected response %+v", resp)
		}
		if len(resp.Probabilities) != 3 {
			t.Errorf("expected 3 probabilities, got %v", resp.Probabilities)
		}
	})

	tests := []struct {
		name   string
		method string
		body   string
		status int
		want   string
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, ""},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest, "invalid JSON"},
		{"short sequence", http.MethodPost, sequenceJSON(10, 9), http.StatusBadRequest, "expected 15, got 10"},
		{"legacy features", http.MethodPost, sequenceJSON(15, 24), http.StatusBadRequest, "expected 9 features"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/predict", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.want != "" && !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.want)
			}
		})
	}

	t.Run("no model", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(sequenceJSON(15, 9)))
		rec := httptest.NewRecorder()
		NewPredictHandler(nil, 0.5, nil).ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		if !strings.Contains(rec.Body.String(), `"success":false`) {
			t.Errorf("expected success false, got %s", rec.Body.String())
		}
	})
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunsHandler(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"run-a", "run-b"} {
		run := &store.Run{ID: id, Layout: features.MotionLayoutID, SequenceLength: 15, StartedAt: time.Unix(int64(1000+i), 0)}
		if err := s.Runs().Create(run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	h := NewRunsHandler(s)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list listRunsResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != "run-b" {
		t.Errorf("expected newest run only, got %+v", list.Runs)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-a", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"run-a"`) {
		t.Errorf("GET run-a: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET missing: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}
}

func TestTrialsHandler(t *testing.T) {
	s := newTestStore(t)
	h := NewTrialsHandler(s)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trials/summary", nil))
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"gestures":[]`)) {
		t.Errorf("expected empty summary, got %s", rec.Body.String())
	}

	for _, tr := range []store.Trial{
		{SessionID: "s", Expected: "YES", Predicted: "YES", Confidence: 0.9},
		{SessionID: "s", Expected: "YES", Predicted: "NO", Confidence: 0.6},
		{SessionID: "s", Expected: "NO", Predicted: "NO", Confidence: 0.8},
	} {
		tr := tr
		if err := s.Trials().Create(&tr); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trials/summary", nil))
	var sum summaryResponse
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Correct != 2 || len(sum.Gestures) != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trials", nil))
	var list listTrialsResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Trials) != 3 {
		t.Errorf("expected 3 trials, got %d", len(list.Trials))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trials", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: status = %d", rec.Code)
	}
}
