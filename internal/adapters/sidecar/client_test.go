package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/inference"
)

type fakeSidecar struct {
	mu       sync.Mutex
	loads    []loadRequest
	unloaded []string
	forms    map[string]map[string]string
	audioLen map[string]int
}

func newFakeSidecar() *fakeSidecar {
	return &fakeSidecar{forms: map[string]map[string]string{}, audioLen: map[string]int{}}
}

func (f *fakeSidecar) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/models/load", func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.loads = append(f.loads, req)
		f.mu.Unlock()
		if req.ID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model missing not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(loadResponse{HandleID: string(req.Kind) + "-" + req.ID})
	})
	mux.HandleFunc("DELETE /v1/models/{handle}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.unloaded = append(f.unloaded, r.PathValue("handle"))
		f.mu.Unlock()
		if strings.HasPrefix(r.PathValue("handle"), "stuck-") {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"handle busy"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/models/{handle}/{op}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("audio")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)

		op := r.PathValue("op")
		fields := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f.mu.Lock()
		f.forms[op] = fields
		f.audioLen[op] = len(data)
		f.mu.Unlock()

		switch op {
		case "transcribe":
			if fields["language"] == "xx" {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"decode failed"}`))
				return
			}
			_, _ = w.Write([]byte(`{"language":"en","segments":[{"start":0,"end":1.5,"text":" hello "}]}`))
		case "align":
			var segs []inference.Segment
			require.NoError(t, json.Unmarshal([]byte(fields["segments"]), &segs))
			for i := range segs {
				segs[i].Start += 0.1
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"segments": segs})
		case "diarize":
			_, _ = w.Write([]byte(`{"turns":[{"start":0,"end":2,"speaker":"SPEAKER_01"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeSidecar) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{
		ASRURL:       srv.URL + "/",
		Device:       "cpu",
		ComputeType:  "int8",
		DownloadRoot: "models",
		HFToken:      "hf_secret",
	})
}

func testBuffer() *audio.Buffer {
	return &audio.Buffer{Samples: make([]float32, 1600), SampleRate: audio.SampleRate}
}

func TestClient_RecognizerRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFakeSidecar()
	c := newTestClient(t, f)
	ctx := context.Background()

	h, err := c.Load(ctx, inference.ASRKey("turbo"))
	require.NoError(t, err)
	rec, ok := h.(inference.Recognizer)
	require.True(t, ok)

	tr, err := rec.Transcribe(ctx, testBuffer(), inference.TranscribeOptions{BatchSize: 4, ChunkSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "en", tr.Language)
	require.Len(t, tr.Segments, 1)
	assert.Equal(t, " hello ", tr.Segments[0].Text)

	f.mu.Lock()
	assert.Equal(t, "4", f.forms["transcribe"]["batch_size"])
	assert.Equal(t, "10", f.forms["transcribe"]["chunk_size"])
	assert.Equal(t, "16000", f.forms["transcribe"]["sample_rate"])
	assert.NotContains(t, f.forms["transcribe"], "language")
	assert.Equal(t, 3200, f.audioLen["transcribe"])
	require.Len(t, f.loads, 1)
	assert.Equal(t, "cpu", f.loads[0].Device)
	assert.Empty(t, f.loads[0].HFToken)
	f.mu.Unlock()

	require.NoError(t, h.Close(ctx))
	f.mu.Lock()
	assert.Equal(t, []string{"asr-turbo"}, f.unloaded)
	f.mu.Unlock()
}

func TestClient_TranscribeErrorCarriesSidecarMessage(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, newFakeSidecar())
	ctx := context.Background()

	h, err := c.Load(ctx, inference.ASRKey("small"))
	require.NoError(t, err)
	_, err = h.(inference.Recognizer).Transcribe(ctx, testBuffer(), inference.TranscribeOptions{Language: "xx"})
	require.Error(t, err)
	assert.Equal(t, "decode failed", err.Error())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "sidecar_500", se.ErrorClass())
}

func TestClient_AlignAndDiarize(t *testing.T) {
	t.Parallel()
	f := newFakeSidecar()
	c := newTestClient(t, f)
	ctx := context.Background()

	ah, err := c.Load(ctx, inference.AlignmentKey("en"))
	require.NoError(t, err)
	aligned, err := ah.(inference.Aligner).Align(ctx, testBuffer(), []inference.Segment{{Start: 1, End: 2, Text: "a"}})
	require.NoError(t, err)
	require.Len(t, aligned, 1)
	assert.InDelta(t, 1.1, aligned[0].Start, 1e-9)

	dh, err := c.Load(ctx, inference.DiarizationKey())
	require.NoError(t, err)
	n := 2
	turns, err := dh.(inference.Diarizer).Diarize(ctx, testBuffer(), inference.DiarizeOptions{NumSpeakers: &n})
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "SPEAKER_01", turns[0].Speaker)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "2", f.forms["diarize"]["num_speakers"])
	assert.Equal(t, "hf_secret", f.loads[1].HFToken)
}

func TestClient_LoadFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, newFakeSidecar())

	_, err := c.Load(context.Background(), inference.ASRKey("missing"))
	require.Error(t, err)
	assert.Equal(t, "model missing not found", err.Error())
}

func TestClient_LoadUnsupportedKindUnloads(t *testing.T) {
	t.Parallel()

	t.Run("unload succeeds", func(t *testing.T) {
		t.Parallel()
		f := newFakeSidecar()
		c := newTestClient(t, f)

		_, err := c.Load(context.Background(), inference.Key{Kind: "ocr", ID: "tiny"})
		require.Error(t, err)
		assert.Equal(t, `unsupported model kind "ocr"`, err.Error())
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, []string{"ocr-tiny"}, f.unloaded)
	})

	t.Run("unload failure is reported", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, newFakeSidecar())

		_, err := c.Load(context.Background(), inference.Key{Kind: "stuck", ID: "tiny"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported model kind "stuck"`)
		assert.Contains(t, err.Error(), "handle busy")
	})
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, newFakeSidecar())
	require.NoError(t, c.Health(context.Background()))

	down := NewClient(Config{ASRURL: "http://127.0.0.1:1"})
	require.Error(t, down.Health(context.Background()))
}

func TestClient_CloseIgnoresUnknownHandle(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	m := model{client: NewClient(Config{ASRURL: srv.URL}), baseURL: srv.URL, key: inference.ASRKey("small"), handleID: "gone"}
	require.NoError(t, m.Close(context.Background()))
}
