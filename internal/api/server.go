// Package api exposes the node's runtime state over HTTP: the latest label
// and pose, the recorded observation log, and a live label tail.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/db"
	"github.com/rubot-data/signpilot/internal/drive"
	"github.com/rubot-data/signpilot/internal/monitoring"
	"github.com/rubot-data/signpilot/internal/odom"
	"github.com/rubot-data/signpilot/internal/vision"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	bus      *bus.Bus
	db       *db.DB
	state    *drive.CommandState
	loop     *drive.Loop
	pipeline *vision.Pipeline
	frameSeq atomic.Uint64
}

func NewServer(b *bus.Bus, database *db.DB, state *drive.CommandState, loop *drive.Loop, pipeline *vision.Pipeline) *Server {
	return &Server{
		bus:      b,
		db:       database,
		state:    state,
		loop:     loop,
		pipeline: pipeline,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/command", s.showCommand)
	mux.HandleFunc("/api/capture", s.setCapture)
	mux.HandleFunc("/api/frames", s.ingestFrame)
	mux.HandleFunc("/api/labels/tail", s.tailLabels)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusResponse struct {
	Label          string                    `json:"label"`
	Pose           odom.Pose                 `json:"pose"`
	CaptureEnabled bool                      `json:"capture_enabled"`
	Frames         uint64                    `json:"frames"`
	Topics         map[string]bus.TopicStats `json:"topics"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	x, y := s.loop.Pose()
	status := statusResponse{
		Label:          string(s.state.Get()),
		Pose:           odom.Pose{X: x, Y: y},
		CaptureEnabled: s.pipeline.CaptureEnabled(),
		Frames:         s.pipeline.FrameCount(),
		Topics:         s.bus.Stats().Topics,
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsedLimit, err := strconv.Atoi(l)
		if err != nil || parsedLimit < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsedLimit
	}

	detections, err := s.db.RecentDetections(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve detections: %v", err))
		return
	}
	if detections == nil {
		detections = []db.Detection{}
	}

	if err := json.NewEncoder(w).Encode(detections); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write detections")
		return
	}
}

func (s *Server) showCommand(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cmd, err := s.db.LatestCommand()
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSONError(w, http.StatusNotFound, "No command recorded yet")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve command: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(cmd); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write command")
		return
	}
}

func (s *Server) setCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.bus.Publish(bus.TopicCaptureToggle, *req.Enabled)
	io.WriteString(w, "Capture toggle sent successfully")
}

// ingestFrame accepts an encoded camera frame (JPEG or PNG) in the request
// body and publishes it for the perception pipeline. Camera daemons push
// frames here.
func (s *Server) ingestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		http.Error(w, "Failed to read frame body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Empty frame body", http.StatusBadRequest)
		return
	}

	s.bus.Publish(bus.TopicFrames, bus.Frame{
		Data: data,
		Seq:  s.frameSeq.Add(1),
		Time: time.Now(),
	})
	w.WriteHeader(http.StatusAccepted)
}

// tailLabels issues Server-Side Events (SSE) for every label as it is
// published, for watching the classifier live from a browser or curl.
func (s *Server) tailLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.bus.Subscribe(bus.TopicLabels, 16)
	defer s.bus.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case msg, ok := <-c:
			if !ok {
				// Channel closed, exit gracefully
				return
			}
			_, err := fmt.Fprintf(w, "data: %v\n\n", msg.Payload)
			if err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
