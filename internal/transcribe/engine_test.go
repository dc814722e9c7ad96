package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testJob() *Job {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.25
	}
	return NewJob(samples, 16000, Params{Model: "whisper-base"})
}

func TestServerEngineProcess(t *testing.T) {
	var gotModel, gotRate string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotRate = r.FormValue("sample_rate")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing audio file: %v", err)
		} else {
			file.Close()
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"text": "hello world",
			"segments": []map[string]interface{}{
				{"start": 0.0, "end": 0.5, "text": "hello"},
				{"start": 0.5, "end": 1.0, "text": "world"},
			},
		})
	}))
	defer srv.Close()

	engine, err := NewServerEngine(ServerConfig{Endpoint: srv.URL + "/inference", Model: "whisper-base"})
	if err != nil {
		t.Fatalf("NewServerEngine() error = %v", err)
	}

	timings, err := engine.Process(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if gotModel != "whisper-base" {
		t.Errorf("model field = %q, want whisper-base", gotModel)
	}
	if gotRate != "16000" {
		t.Errorf("sample_rate field = %q, want 16000", gotRate)
	}

	if len(timings) != 2 {
		t.Fatalf("got %d timings, want 2", len(timings))
	}
	if timings[0].StartMS != 0 || timings[0].EndMS != 500 {
		t.Errorf("timing 0 = [%d, %d], want [0, 500]", timings[0].StartMS, timings[0].EndMS)
	}
	if timings[1].StartMS != 500 || timings[1].EndMS != 1000 {
		t.Errorf("timing 1 = [%d, %d], want [500, 1000]", timings[1].StartMS, timings[1].EndMS)
	}
}

func TestServerEngineRetriesServerErrors(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"text": "ok"})
	}))
	defer srv.Close()

	engine, err := NewServerEngine(ServerConfig{Endpoint: srv.URL, MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewServerEngine() error = %v", err)
	}

	timings, err := engine.Process(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("server called %d times, want 2", calls)
	}
	if len(timings) != 1 || timings[0].Text != "ok" {
		t.Errorf("timings = %+v, want single 'ok' segment", timings)
	}

	stats := engine.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("TotalRetries = %d, want 1", stats.TotalRetries)
	}
}

func TestServerEngineDoesNotRetryClientErrors(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	engine, err := NewServerEngine(ServerConfig{Endpoint: srv.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("NewServerEngine() error = %v", err)
	}

	if _, err := engine.Process(context.Background(), testJob()); err == nil {
		t.Fatal("Process() should fail on HTTP 400")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server called %d times, want 1 (no retries)", calls)
	}
}

func TestServerEnginePing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine, err := NewServerEngine(ServerConfig{Endpoint: srv.URL + "/inference"})
	if err != nil {
		t.Fatalf("NewServerEngine() error = %v", err)
	}

	if err := engine.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestServerEnginePingUnreachable(t *testing.T) {
	engine, err := NewServerEngine(ServerConfig{
		Endpoint: "http://127.0.0.1:1/inference",
		Timeout:  500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewServerEngine() error = %v", err)
	}

	if err := engine.Ping(context.Background()); err == nil {
		t.Error("Ping() against closed port should return error")
	}
}

func TestNewServerEngineValidation(t *testing.T) {
	if _, err := NewServerEngine(ServerConfig{}); err == nil {
		t.Error("NewServerEngine() with empty endpoint should return error")
	}
}
