// whisper-stub is a local development stand-in for a whisper-server
// style inference endpoint. It accepts the daemon's multipart uploads
// and returns a canned transcript with plausible segment timings.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type inferenceResponse struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
}

func inferenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(25 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	requestID := r.FormValue("request_id")
	model := r.FormValue("model")
	duration := r.FormValue("duration")
	sampleRate := r.FormValue("sample_rate")

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("inference request: id=%s model=%s duration=%ss rate=%s file=%s size=%d",
		requestID, model, duration, sampleRate, header.Filename, len(audioData))

	// Simulate model latency
	time.Sleep(200 * time.Millisecond)

	var durationSec float64
	fmt.Sscanf(duration, "%f", &durationSec)
	if durationSec <= 0 {
		durationSec = 1
	}

	response := inferenceResponse{
		Text: "this is a stub transcription",
		Segments: []segment{
			{Start: 0, End: durationSec / 2, Text: "this is a stub"},
			{Start: durationSec / 2, End: durationSec, Text: "transcription"},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)

	log.Printf("inference response sent: id=%s", requestID)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	flag.Parse()

	http.HandleFunc("/inference", inferenceHandler)
	http.HandleFunc("/health", healthHandler)

	log.Printf("stub inference server listening on %s", *addr)
	log.Printf("point engine.endpoint at http://localhost%s/inference", *addr)

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
