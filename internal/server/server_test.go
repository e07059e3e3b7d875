package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kavehfayyazi/tremolo/internal/engine"
	"github.com/kavehfayyazi/tremolo/internal/health"
	"github.com/kavehfayyazi/tremolo/internal/observe"
	"github.com/kavehfayyazi/tremolo/internal/poller"
	"github.com/kavehfayyazi/tremolo/internal/server"
	"github.com/kavehfayyazi/tremolo/internal/store"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis/mock"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// ---- helpers ----

func fillerStatus() *types.JobStatus {
	return &types.JobStatus{
		Status: types.JobComplete,
		Transcription: &types.Transcription{
			Status:   types.TranscriptionCompleted,
			FullText: "um hello uh",
			Words: []types.TranscriptWord{
				{Text: "um", Start: 0.0, End: 0.3},
				{Text: "hello", Start: 0.4, End: 0.8},
				{Text: "uh", Start: 0.9, End: 1.1},
			},
		},
	}
}

func newEngine(p analysis.Provider, opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{
		engine.WithPollerConfig(poller.Config{MaxAttempts: 3, Interval: time.Millisecond}),
	}, opts...)
	return engine.New(p, opts...)
}

func newServer(t *testing.T, a server.Analyzer, opts ...server.Option) (*server.Server, *store.MemStore, http.Handler) {
	t.Helper()
	st := store.NewMemStore()
	srv := server.New(a, st, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, st, srv.Handler()
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "ignored")
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = io.WriteString(fw, content)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

func create(t *testing.T, h http.Handler, field string) string {
	t.Helper()
	body, ct := multipartBody(t, field, "talk.mp4", "video-bytes")
	rec := do(t, h, "POST", "/api/analyses", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[struct {
		ID    string         `json:"id"`
		State types.JobState `json:"state"`
	}](t, rec)
	if resp.ID == "" || resp.State != types.JobQueued {
		t.Fatalf("create response = %+v", resp)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/analyses/"+resp.ID {
		t.Errorf("Location = %q", loc)
	}
	return resp.ID
}

// completedRecord stores a finished analysis whose only anchor sits at index
// 50 of a 100-byte transcript at 8s.
func completedRecord(t *testing.T, st *store.MemStore) string {
	t.Helper()
	ctx := context.Background()
	rec, _ := st.Create(ctx, "talk.mp4")
	_, err := st.Update(ctx, rec.ID, func(r *store.Record) {
		r.State = types.JobComplete
		r.Analysis = &types.Analysis{
			Transcript: strings.Repeat("word ", 20),
			Markers: []types.FeedbackMarker{
				{Category: types.CategorySpeech, Timestamp: 8, Feedback: "Pause", TranscriptStartIndex: 50, TranscriptEndIndex: 54},
			},
			Source: types.SourceLive,
		}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return rec.ID
}

// ---- uploads ----

func TestCreate_AnalysesInBackground(t *testing.T) {
	t.Parallel()

	for _, field := range []string{"video", "file"} {
		t.Run(field, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{
				JobID:    "job-1",
				Statuses: []*types.JobStatus{{Status: types.JobProcessing}, fillerStatus()},
			}
			srv, _, h := newServer(t, newEngine(p))

			id := create(t, h, field)
			srv.Wait()

			rec := do(t, h, "GET", "/api/analyses/"+id, nil, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("get status = %d", rec.Code)
			}
			got := decode[store.Record](t, rec)
			if got.State != types.JobComplete || got.Analysis == nil {
				t.Fatalf("record = %+v", got)
			}
			if got.JobID != "job-1" || got.Attempts != 2 || got.Stage != engine.StageScored {
				t.Errorf("JobID=%q Attempts=%d Stage=%q", got.JobID, got.Attempts, got.Stage)
			}
			if got.Analysis.Source != types.SourceLive || len(got.Analysis.Markers) != 2 {
				t.Errorf("analysis = %+v", got.Analysis)
			}
			if len(p.UploadCalls) != 1 || string(p.UploadCalls[0].Data) != "video-bytes" || p.UploadCalls[0].Filename != "talk.mp4" {
				t.Errorf("upload calls = %+v", p.UploadCalls)
			}
		})
	}
}

func TestCreate_BackendDownServesDemo(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{UploadErr: &analysis.UploadError{Status: 502}}
	srv, _, h := newServer(t, newEngine(p))

	id := create(t, h, "video")
	srv.Wait()

	got := decode[store.Record](t, do(t, h, "GET", "/api/analyses/"+id, nil, ""))
	if got.State != types.JobComplete || got.Analysis == nil || got.Analysis.Source != types.SourceDemo {
		t.Fatalf("record = %+v", got)
	}
	if got.JobID != "" {
		t.Errorf("demo record JobID = %q", got.JobID)
	}
}

func TestCreate_FailureRecordedWithoutDemo(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{JobID: "job-9", Statuses: []*types.JobStatus{{Status: types.JobError, Detail: "boom"}}}
	srv, _, h := newServer(t, newEngine(p, engine.WithDemoFallback(false)))

	id := create(t, h, "video")
	srv.Wait()

	got := decode[store.Record](t, do(t, h, "GET", "/api/analyses/"+id, nil, ""))
	if got.State != types.JobError || got.Analysis != nil {
		t.Fatalf("record = %+v", got)
	}
	if !strings.Contains(got.Error, "boom") {
		t.Errorf("Error = %q, want job detail", got.Error)
	}
}

func TestCreate_RejectsBadUploads(t *testing.T) {
	t.Parallel()

	_, st, h := newServer(t, newEngine(&mock.Provider{}), server.WithConfig(server.Config{MaxUploadBytes: 1024}))

	t.Run("not multipart", func(t *testing.T) {
		rec := do(t, h, "POST", "/api/analyses", strings.NewReader("{}"), "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
	t.Run("missing field", func(t *testing.T) {
		body, ct := multipartBody(t, "attachment", "talk.mp4", "x")
		if rec := do(t, h, "POST", "/api/analyses", body, ct); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
	t.Run("too large", func(t *testing.T) {
		body, ct := multipartBody(t, "video", "talk.mp4", strings.Repeat("v", 4096))
		if rec := do(t, h, "POST", "/api/analyses", body, ct); rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})

	if st.Len() != 0 {
		t.Errorf("rejected uploads created %d records", st.Len())
	}
}

func TestShutdown_CancelsRunningAnalyses(t *testing.T) {
	t.Parallel()

	a := &blockingAnalyzer{started: make(chan struct{})}
	srv, st, h := newServer(t, a)

	id := create(t, h, "video")
	<-a.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.State != types.JobError || !strings.Contains(rec.Error, context.Canceled.Error()) {
		t.Errorf("record = %+v", rec)
	}
}

type blockingAnalyzer struct {
	started chan struct{}
}

func (b *blockingAnalyzer) AnalyzeOrDemo(ctx context.Context, _ string, _ io.Reader, _ ...engine.RunOption) (*types.Analysis, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingAnalyzer) FromStatus(context.Context, string, *types.JobStatus, ...engine.RunOption) (*types.Analysis, error) {
	return nil, errors.New("not used")
}

// ---- records ----

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	_, _, h := newServer(t, newEngine(&mock.Provider{}))

	for _, path := range []string{"/api/analyses/nope", "/api/analyses/nope/events"} {
		rec := do(t, h, "GET", path, nil, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	_, st, h := newServer(t, newEngine(&mock.Provider{}))
	id := completedRecord(t, st)

	recs := decode[[]store.Record](t, do(t, h, "GET", "/api/analyses", nil, ""))
	if len(recs) != 1 || recs[0].ID != id {
		t.Errorf("list = %+v", recs)
	}
}

// ---- timestamps ----

func TestTimestamps(t *testing.T) {
	t.Parallel()
	_, st, h := newServer(t, newEngine(&mock.Provider{}))
	id := completedRecord(t, st)

	tests := []struct {
		name string
		body string
		want []float64
	}{
		{"anchored", `{"charIndexes": [0, 25, 50, 75, 100], "videoDuration": 10}`, []float64{0, 4, 8, 9, 10}},
		{"speech enabled", `{"charIndexes": [25], "videoDuration": 10, "categories": ["speech"]}`, []float64{4}},
		{"speech disabled", `{"charIndexes": [25, 75], "videoDuration": 10, "categories": ["vocal"]}`, []float64{2.5, 7.5}},
		{"clamped", `{"charIndexes": [500], "videoDuration": 10}`, []float64{10}},
		{"no indexes", `{"videoDuration": 10}`, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, "POST", "/api/analyses/"+id+"/timestamps", strings.NewReader(tt.body), "application/json")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			got := decode[struct {
				Timestamps []float64 `json:"timestamps"`
			}](t, rec).Timestamps
			if len(got) != len(tt.want) {
				t.Fatalf("timestamps = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("timestamps[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTimestamps_Errors(t *testing.T) {
	t.Parallel()
	_, st, h := newServer(t, newEngine(&mock.Provider{}))
	done := completedRecord(t, st)
	running, _ := st.Create(context.Background(), "x.mp4")

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"unknown id", "nope", `{"videoDuration": 1}`, http.StatusNotFound},
		{"still running", running.ID, `{"videoDuration": 1}`, http.StatusConflict},
		{"bad json", done, `{`, http.StatusBadRequest},
		{"negative duration", done, `{"videoDuration": -1}`, http.StatusBadRequest},
		{"unknown category", done, `{"videoDuration": 1, "categories": ["posture"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, "POST", "/api/analyses/"+tt.id+"/timestamps", strings.NewReader(tt.body), "application/json")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestWords(t *testing.T) {
	t.Parallel()
	_, st, h := newServer(t, newEngine(&mock.Provider{}))
	id := completedRecord(t, st)

	rec := do(t, h, "GET", "/api/analyses/"+id+"/words?duration=10&category=speech", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	words := decode[struct {
		Words []struct {
			Start     int                   `json:"start"`
			Timestamp float64               `json:"timestamp"`
			Marker    *types.FeedbackMarker `json:"marker"`
		} `json:"words"`
	}](t, rec).Words
	if len(words) != 20 {
		t.Fatalf("got %d words, want 20", len(words))
	}
	covered := words[10]
	if covered.Marker == nil || covered.Timestamp != 8 {
		t.Errorf("word at marker = %+v", covered)
	}

	if rec := do(t, h, "GET", "/api/analyses/"+id+"/words", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing duration status = %d, want 400", rec.Code)
	}
}

// ---- fuse & demo ----

func TestFuse(t *testing.T) {
	t.Parallel()
	_, _, h := newServer(t, newEngine(&mock.Provider{}))

	payload, _ := json.Marshal(fillerStatus())
	rec := do(t, h, "POST", "/api/fuse?job_id=job-7", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	a := decode[types.Analysis](t, rec)
	if len(a.Markers) != 2 || a.JobID != "job-7" || a.Transcript != "um hello uh" {
		t.Errorf("analysis = %+v", a)
	}

	rec = do(t, h, "POST", "/api/fuse", strings.NewReader(`{"status": "complete"}`), "application/json")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("incomplete payload status = %d, want 422", rec.Code)
	}
	rec = do(t, h, "POST", "/api/fuse", strings.NewReader(`not json`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}
}

func TestDemo(t *testing.T) {
	t.Parallel()
	_, _, h := newServer(t, newEngine(&mock.Provider{}))

	rec := do(t, h, "GET", "/api/demo", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	a := decode[types.Analysis](t, rec)
	if a.Source != types.SourceDemo || len(a.Markers) != 6 || a.OverallScore != 8.5 {
		t.Errorf("demo = %+v", a)
	}
}

// ---- events ----

func TestEvents_StreamsUntilTerminal(t *testing.T) {
	t.Parallel()
	_, st, h := newServer(t, newEngine(&mock.Provider{}))
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, _ := st.Create(ctx, "talk.mp4")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/analyses/" + rec.ID + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var first store.Record
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.ID != rec.ID || first.State != types.JobQueued {
		t.Fatalf("first event = %+v", first)
	}

	st.Update(ctx, rec.ID, func(r *store.Record) { r.State = types.JobProcessing; r.Attempts = 1 })
	st.Update(ctx, rec.ID, func(r *store.Record) {
		r.State = types.JobComplete
		r.Analysis = engine.Demo()
	})

	var last store.Record
	for {
		var ev store.Record
		err := wsjson.Read(ctx, conn, &ev)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
				t.Fatalf("stream ended with %v (status %d)", err, status)
			}
			break
		}
		last = ev
	}
	if last.State != types.JobComplete || last.Analysis == nil || last.Attempts != 1 {
		t.Errorf("last event = %+v", last)
	}
}

// ---- mounting ----

func TestHandler_MountsProbesAndMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	promStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	_, _, h := newServer(t, newEngine(&mock.Provider{}),
		server.WithMetrics(m),
		server.WithHealth(health.New(nil)),
		server.WithMetricsHandler(promStub),
	)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/api/demo"} {
		if rec := do(t, h, "GET", path, nil, ""); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	routes := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "tremolo.http.request.duration" {
				continue
			}
			hist, ok := md.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range hist.DataPoints {
				if v, ok := dp.Attributes.Value("route"); ok {
					routes[v.AsString()] = true
				}
			}
		}
	}
	for _, want := range []string{"GET /healthz", "GET /readyz", "GET /metrics", "GET /api/demo"} {
		if !routes[want] {
			t.Errorf("no duration recorded for route %q (got %v)", want, routes)
		}
	}
}
