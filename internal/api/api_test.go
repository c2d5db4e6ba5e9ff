package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amanullahtanweer/segscribe/internal/engine"
	"github.com/amanullahtanweer/segscribe/internal/media"
	"github.com/amanullahtanweer/segscribe/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []engine.Request
	uploaded []byte
	err      error
	tracker  progress.Tracker
}

func (f *fakeEngine) Transcribe(ctx context.Context, req engine.Request) (string, error) {
	data, _ := os.ReadFile(req.SourcePath)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.uploaded = data
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	_ = f.tracker.Update(ctx, req.JobID, progress.Progress{Status: progress.StatusCompleted, Percentage: 100, Completed: true})
	return "selamat datang", nil
}

func uploadBody(t *testing.T, contentType string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="call 01.wav"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF-audio"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func newTestHandler(t *testing.T, eng *fakeEngine) (*Handler, progress.Tracker) {
	t.Helper()
	tracker := progress.NewMemoryTracker()
	eng.tracker = tracker
	h := NewHandler(eng, tracker, Options{
		UploadDir:    t.TempDir(),
		OutputDir:    t.TempDir(),
		Backends:     []string{"malaysia-whisper", "whisper"},
		Version:      "test",
		PollInterval: 10 * time.Millisecond,
	})
	return h, tracker
}

func TestTranscribeUpload(t *testing.T) {
	eng := &fakeEngine{}
	h, _ := newTestHandler(t, eng)

	body, ct := uploadBody(t, "audio/wav", map[string]string{
		"max_workers":        "4",
		"model_name":         "Malaysia Whisper",
		"language":           "ms",
		"format":             "txt",
		"remove_repetitions": "true",
	})
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TranscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "selamat datang", resp.Transcription)
	assert.Equal(t, "call 01.wav", resp.Filename)
	assert.Equal(t, "audio/wav", resp.ContentType)
	assert.True(t, strings.HasSuffix(resp.OutputPath, resp.RequestID+"_call 01_transcription.txt"))

	require.Len(t, eng.requests, 1)
	got := eng.requests[0]
	assert.Equal(t, resp.RequestID, got.JobID)
	assert.Equal(t, 4, got.MaxWorkers)
	assert.Equal(t, "Malaysia Whisper", got.Backend)
	assert.Equal(t, "ms", got.Language)
	assert.Equal(t, "plain", got.Format)
	assert.True(t, got.RemoveRepetitions)
	assert.Equal(t, "RIFF-audio", string(eng.uploaded))

	// upload is removed once the job finishes
	assert.NoFileExists(t, got.SourcePath)
}

func TestTranscribeRejectsBadRequests(t *testing.T) {
	eng := &fakeEngine{}
	h, _ := newTestHandler(t, eng)

	testCases := []struct {
		name        string
		contentType string
		fields      map[string]string
	}{
		{"unsupported type", "application/pdf", nil},
		{"bad workers", "audio/mpeg", map[string]string{"max_workers": "zero"}},
		{"bad format", "audio/mpeg", map[string]string{"format": "docx"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := uploadBody(t, tc.contentType, tc.fields)
			req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, eng.requests)
}

func TestTranscribeInputErrorIsBadRequest(t *testing.T) {
	eng := &fakeEngine{err: &media.InputError{Path: "x.wav", Err: fmt.Errorf("no audio samples")}}
	h, tracker := newTestHandler(t, eng)

	body, ct := uploadBody(t, "audio/wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_input", resp.Code)

	p, err := tracker.Get(context.Background(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusError, p.Status)
	assert.True(t, p.Completed)
}

func TestProgressStreamsUntilCompleted(t *testing.T) {
	h, tracker := newTestHandler(t, &fakeEngine{})
	ctx := context.Background()
	require.NoError(t, tracker.Update(ctx, "job-1", progress.Progress{Status: progress.StatusTranscribing, Percentage: 40}))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = tracker.Update(ctx, "job-1", progress.Progress{Status: progress.StatusCompleted, Percentage: 100, Completed: true})
	}()

	srv := httptest.NewServer(h)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/progress/job-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	events := strings.Split(strings.TrimSpace(buf.String()), "\n\n")
	require.GreaterOrEqual(t, len(events), 2)
	assert.Contains(t, events[0], `"status":"transcribing"`)
	assert.Contains(t, events[len(events)-1], `"completed":true`)

	_, err = tracker.Get(ctx, "job-1")
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func TestProgressWaitsForUnknownJob(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/progress/nope", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), `"status":"waiting"`)
}

func TestHealthAndInfo(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "test", info["version"])
	assert.Equal(t, []any{"malaysia-whisper", "whisper"}, info["backends"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcribe", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRemoveRepetitionsDefaultsFromOptions(t *testing.T) {
	eng := &fakeEngine{}
	tracker := progress.NewMemoryTracker()
	eng.tracker = tracker
	h := NewHandler(eng, tracker, Options{
		UploadDir:         t.TempDir(),
		OutputDir:         t.TempDir(),
		RemoveRepetitions: true,
	})

	send := func(fields map[string]string) int {
		body, ct := uploadBody(t, "audio/wav", fields)
		req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send(nil))
	require.Equal(t, http.StatusOK, send(map[string]string{"remove_repetitions": "false"}))
	assert.Equal(t, http.StatusBadRequest, send(map[string]string{"remove_repetitions": "maybe"}))

	require.Len(t, eng.requests, 2)
	assert.True(t, eng.requests[0].RemoveRepetitions)
	assert.False(t, eng.requests[1].RemoveRepetitions)
}
