package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kavehfayyazi/tremolo/internal/engine"
	"github.com/kavehfayyazi/tremolo/internal/store"
	"github.com/kavehfayyazi/tremolo/internal/transcript"
	"github.com/kavehfayyazi/tremolo/pkg/timestamp"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 32 << 20

// uploadFields are the multipart field names accepted for the recording, in
// order of preference.
var uploadFields = []string{"video", "file"}

type createResponse struct {
	ID    string         `json:"id"`
	State types.JobState `json:"state"`
}

type timestampsRequest struct {
	CharIndexes   []int            `json:"charIndexes"`
	VideoDuration float64          `json:"videoDuration"`
	Categories    []types.Category `json:"categories,omitempty"`
}

type timestampsResponse struct {
	Timestamps []float64 `json:"timestamps"`
}

type wordsResponse struct {
	Words []timestamp.WordTime `json:"words"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data upload")
		return
	}

	var (
		sp       *spooled
		filename string
	)
	for sp == nil {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, `missing "video" file field`)
			return
		}
		if err != nil {
			writeUploadError(w, err)
			return
		}
		if !slices.Contains(uploadFields, part.FormName()) {
			_ = part.Close()
			continue
		}
		filename = part.FileName()
		if filename == "" {
			filename = "recording"
		}
		sp, err = spool(s.cfg.SpoolDir, part)
		_ = part.Close()
		if err != nil {
			writeUploadError(w, err)
			return
		}
	}

	rec, err := s.store.Create(r.Context(), filename)
	if err != nil {
		sp.Remove()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wg.Add(1)
	go s.analyze(rec.ID, filename, sp)

	w.Header().Set("Location", "/api/analyses/"+rec.ID)
	writeJSON(w, http.StatusAccepted, createResponse{ID: rec.ID, State: rec.State})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvents streams the record as JSON text frames, first its current
// state and then every change, and closes normally after the terminal state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	updates, cancel, err := s.store.Subscribe(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept already wrote the response.
		slog.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "analysis finished")
				return
			}
			if err := s.writeEvent(ctx, conn, rec); err != nil {
				slog.Debug("event stream closed", "analysis_id", rec.ID, "err", err)
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, rec store.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, rec)
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	var req timestampsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validDuration(req.VideoDuration) {
		writeError(w, http.StatusBadRequest, "videoDuration must be a finite, non-negative number")
		return
	}
	if !validCategories(w, req.Categories) {
		return
	}

	a, ok := s.completed(w, r)
	if !ok {
		return
	}
	est := timestamp.New(timestamp.FilterCategories(a.Markers, req.Categories...), utf8.RuneCountInString(a.Transcript), req.VideoDuration)
	out := make([]float64, len(req.CharIndexes))
	for i, idx := range req.CharIndexes {
		out[i] = est.At(idx)
	}
	writeJSON(w, http.StatusOK, timestampsResponse{Timestamps: out})
}

// handleWords resolves a seek time for every transcript word. Query:
// duration (seconds, required) and zero or more category values.
func (s *Server) handleWords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration, err := strconv.ParseFloat(q.Get("duration"), 64)
	if err != nil || !validDuration(duration) {
		writeError(w, http.StatusBadRequest, "duration must be a finite, non-negative number")
		return
	}
	var cats []types.Category
	for _, c := range q["category"] {
		cats = append(cats, types.Category(c))
	}
	if !validCategories(w, cats) {
		return
	}

	a, ok := s.completed(w, r)
	if !ok {
		return
	}
	words := timestamp.Resolve(a.Transcript, timestamp.FilterCategories(a.Markers, cats...), duration)
	writeJSON(w, http.StatusOK, wordsResponse{Words: words})
}

// handleFuse fuses and scores a job payload the caller already fetched.
func (s *Server) handleFuse(w http.ResponseWriter, r *http.Request) {
	var st types.JobStatus
	if !decodeJSON(w, r, &st) {
		return
	}
	a, err := s.analyzer.FromStatus(r.Context(), r.URL.Query().Get("job_id"), &st)
	switch {
	case errors.Is(err, transcript.ErrTranscriptionIncomplete):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *Server) handleDemo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, engine.Demo())
}

// ---- helpers ----

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return store.Record{}, false
	}
	return rec, true
}

// completed returns the finished analysis of the addressed record, answering
// 409 while it is still running or failed.
func (s *Server) completed(w http.ResponseWriter, r *http.Request) (*types.Analysis, bool) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	if rec.State != types.JobComplete || rec.Analysis == nil {
		writeError(w, http.StatusConflict, "analysis is "+string(rec.State))
		return nil, false
	}
	return rec.Analysis, true
}

func validDuration(d float64) bool {
	return d >= 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

func validCategories(w http.ResponseWriter, cats []types.Category) bool {
	for _, c := range cats {
		if !c.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown category "+strconv.Quote(string(c)))
			return false
		}
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
