package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/heimdex/heimdex-inspect/internal/detect"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSidecar struct {
	healthCalls atomic.Int32
	healthy     atomic.Bool
	status      int
	lastImage   []byte
	lastAuth    string
}

func newFakeSidecar(t *testing.T) (*fakeSidecar, *httptest.Server) {
	t.Helper()
	f := &fakeSidecar{status: http.StatusOK}
	f.healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		f.healthCalls.Add(1)
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	decode := func(w http.ResponseWriter, r *http.Request) bool {
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.lastImage = req.Image
		f.lastAuth = r.Header.Get("Authorization")
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing request id header")
		}
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte("model not loaded"))
			return false
		}
		return true
	}
	mux.HandleFunc("POST /v1/detect", func(w http.ResponseWriter, r *http.Request) {
		if !decode(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class": "spill", "confidence": 0.81, "bbox": map[string]float64{"left": 0.1, "top": 0.1, "width": 0.2, "height": 0.2}},
				{"class": "bucket", "confidence": 64.0},
			},
		})
	})
	mux.HandleFunc("POST /v1/uniform", func(w http.ResponseWriter, r *http.Request) {
		if !decode(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class": "apron", "confidence": 0.9},
				{"class": "shoes", "confidence": 0.8},
			},
		})
	})
	mux.HandleFunc("POST /v1/ocr", func(w http.ResponseWriter, r *http.Request) {
		if !decode(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"blocks": []map[string]any{
				{"text": "Burger $9", "confidence": 0.95},
				{"text": "520 cal", "confidence": 0.9},
				{"text": "Contains dairy", "confidence": 0.9},
				{"text": "Fries", "confidence": 0.9},
				{"text": "Shakes", "confidence": 0.9},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestClient_DetectObjects(t *testing.T) {
	f, srv := newFakeSidecar(t)
	c := New(srv.URL, Options{Token: "tok"}, testLogger())

	res := c.DetectObjects(context.Background(), []byte{0xff, 0xd8})
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	objs := res.Value.Objects
	if len(objs) != 2 {
		t.Fatalf("objects = %+v", objs)
	}
	if objs[0].Source != detect.SourceLocal || objs[0].Box == nil {
		t.Errorf("first object = %+v", objs[0])
	}
	if objs[1].Confidence != 0.64 {
		t.Errorf("percent confidence not normalized: %v", objs[1].Confidence)
	}
	if string(f.lastImage) != string([]byte{0xff, 0xd8}) {
		t.Errorf("image bytes not round-tripped: %v", f.lastImage)
	}
	if f.lastAuth != "Bearer tok" {
		t.Errorf("auth = %q", f.lastAuth)
	}
}

func TestClient_DetectUniformAndMenu(t *testing.T) {
	_, srv := newFakeSidecar(t)
	c := New(srv.URL, Options{}, testLogger())

	uni := c.DetectUniform(context.Background(), []byte("img"))
	if !uni.OK() || uni.Value.ComplianceScore != 50 {
		t.Errorf("uniform = %+v", uni)
	}

	menu := c.ReadMenu(context.Background(), []byte("img"))
	if !menu.OK() {
		t.Fatalf("menu = %+v", menu)
	}
	if menu.Value.ComplianceScore != 100 {
		t.Errorf("menu score = %v, issues %+v", menu.Value.ComplianceScore, menu.Value.Issues)
	}
}

func TestClient_HealthCachedBetweenCalls(t *testing.T) {
	f, srv := newFakeSidecar(t)
	c := New(srv.URL, Options{}, testLogger())

	for i := 0; i < 3; i++ {
		if r := c.DetectObjects(context.Background(), []byte("img")); !r.OK() {
			t.Fatalf("call %d: %+v", i, r)
		}
	}
	if n := f.healthCalls.Load(); n != 1 {
		t.Errorf("health calls = %d, want 1", n)
	}
}

func TestClient_UnhealthyIsUnavailable(t *testing.T) {
	f, srv := newFakeSidecar(t)
	f.healthy.Store(false)
	c := New(srv.URL, Options{}, testLogger())

	res := c.DetectObjects(context.Background(), []byte("img"))
	if res.Status != detect.StatusUnavailable {
		t.Errorf("status = %v, want unavailable", res.Status)
	}
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	_, srv := newFakeSidecar(t)
	url := srv.URL
	srv.Close()

	c := New(url, Options{}, testLogger())
	res := c.ReadMenu(context.Background(), []byte("img"))
	if res.Status != detect.StatusUnavailable {
		t.Errorf("status = %v, want unavailable", res.Status)
	}
}

func TestClient_ServerErrorIsCallError(t *testing.T) {
	f, srv := newFakeSidecar(t)
	f.status = http.StatusInternalServerError
	c := New(srv.URL, Options{}, testLogger())

	res := c.DetectUniform(context.Background(), []byte("img"))
	if res.Status != detect.StatusError {
		t.Errorf("status = %v, want error", res.Status)
	}
}

func TestClient_ServiceUnavailableStatus(t *testing.T) {
	f, srv := newFakeSidecar(t)
	f.status = http.StatusServiceUnavailable
	c := New(srv.URL, Options{}, testLogger())

	res := c.DetectObjects(context.Background(), []byte("img"))
	if res.Status != detect.StatusUnavailable {
		t.Errorf("status = %v, want unavailable", res.Status)
	}
}

func TestStatusError_IsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{404, false},
		{500, true},
		{502, true},
	}
	for _, tt := range tests {
		err := error(&StatusError{Path: detectPath, StatusCode: tt.code})
		se, ok := AsStatusError(errors.Join(errors.New("wrapped"), err))
		if !ok {
			t.Fatalf("AsStatusError failed for %d", tt.code)
		}
		if se.IsRetryable() != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.code, se.IsRetryable(), tt.want)
		}
	}
}
