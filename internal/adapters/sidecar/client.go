// Package sidecar talks to the HTTP inference sidecars that host the ASR,
// alignment and diarization models. Each loaded model is addressed by a
// sidecar-issued handle id; closing the handle unloads the model.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/inference"
)

const (
	defaultBaseURL = "http://localhost:9000"
	defaultTimeout = 9 * time.Minute
	maxErrorBody   = 4 << 10
)

// Config holds sidecar connection and model-loading settings.
type Config struct {
	// ASRURL serves recognition and alignment models.
	ASRURL string
	// DiarizationURL serves the diarization pipeline. Empty means ASRURL.
	DiarizationURL string
	Device         string
	ComputeType    string
	DownloadRoot   string
	HFToken        string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client loads models on the sidecars and returns handles that run inference.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ inference.Loader = (*Client)(nil)

// NewClient creates a sidecar client.
func NewClient(cfg Config) *Client {
	cfg.ASRURL = strings.TrimRight(firstNonEmpty(cfg.ASRURL, defaultBaseURL), "/")
	cfg.DiarizationURL = strings.TrimRight(firstNonEmpty(cfg.DiarizationURL, cfg.ASRURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: hc, logger: logger.With("component", "sidecar")}
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

// StatusError is a non-2xx sidecar response. Its text is the sidecar's own
// error message so failures surface to callers unchanged.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("sidecar returned status %d", e.StatusCode)
}

// ErrorClass tags sidecar failures for metrics.
func (e *StatusError) ErrorClass() string {
	return "sidecar_" + strconv.Itoa(e.StatusCode)
}

type loadRequest struct {
	Kind         inference.Kind `json:"kind"`
	ID           string         `json:"id"`
	Device       string         `json:"device,omitempty"`
	ComputeType  string         `json:"compute_type,omitempty"`
	DownloadRoot string         `json:"download_root,omitempty"`
	HFToken      string         `json:"hf_token,omitempty"`
}

type loadResponse struct {
	HandleID string `json:"handle_id"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (c *Client) baseURL(kind inference.Kind) string {
	if kind == inference.KindDiarization {
		return c.cfg.DiarizationURL
	}
	return c.cfg.ASRURL
}

// Load asks the owning sidecar to load the model named by key.
func (c *Client) Load(ctx context.Context, key inference.Key) (inference.Handle, error) {
	req := loadRequest{
		Kind:         key.Kind,
		ID:           key.ID,
		Device:       c.cfg.Device,
		ComputeType:  c.cfg.ComputeType,
		DownloadRoot: c.cfg.DownloadRoot,
	}
	if key.Kind == inference.KindDiarization {
		req.HFToken = c.cfg.HFToken
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode load request: %w", err)
	}

	base := c.baseURL(key.Kind)
	var out loadResponse
	if err := c.do(ctx, http.MethodPost, base+"/v1/models/load", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	if out.HandleID == "" {
		return nil, errors.New("sidecar returned empty handle id")
	}
	c.logger.DebugContext(ctx, "sidecar model loaded", "kind", key.Kind, "model", key.ID, "handle_id", out.HandleID)

	m := model{client: c, baseURL: base, key: key, handleID: out.HandleID}
	switch key.Kind {
	case inference.KindASR:
		return &recognizer{model: m}, nil
	case inference.KindAlignment:
		return &aligner{model: m}, nil
	case inference.KindDiarization:
		return &diarizer{model: m}, nil
	default:
		err := fmt.Errorf("unsupported model kind %q", key.Kind)
		return nil, errors.Join(err, m.Close(ctx))
	}
}

// Health checks every configured sidecar.
func (c *Client) Health(ctx context.Context) error {
	urls := []string{c.cfg.ASRURL}
	if c.cfg.DiarizationURL != c.cfg.ASRURL {
		urls = append(urls, c.cfg.DiarizationURL)
	}
	var errs []error
	for _, base := range urls {
		if err := c.do(ctx, http.MethodGet, base+"/health", "", nil, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) do(ctx context.Context, method, target, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode sidecar response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{StatusCode: resp.StatusCode}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil {
		se.Message = firstNonEmpty(er.Error, er.Detail)
	}
	if se.Message == "" {
		se.Message = strings.TrimSpace(string(raw))
	}
	return se
}

// model is the state shared by every handle kind.
type model struct {
	client   *Client
	baseURL  string
	key      inference.Key
	handleID string
}

func (m model) endpoint(op string) string {
	return m.baseURL + "/v1/models/" + url.PathEscape(m.handleID) + "/" + op
}

// Close unloads the model. An already unloaded handle is not an error.
func (m model) Close(ctx context.Context) error {
	err := m.client.do(ctx, http.MethodDelete, m.baseURL+"/v1/models/"+url.PathEscape(m.handleID), "", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unload %s: %w", m.key, err)
	}
	return nil
}

// post sends the audio plus form fields as multipart to op and decodes the reply.
func (m model) post(ctx context.Context, op string, buf *audio.Buffer, fields map[string]string, out any) error {
	if buf == nil {
		return audio.ErrEmptyAudio
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("audio", "audio.pcm")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(buf.PCM16()); err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	if err := w.WriteField("sample_rate", strconv.Itoa(buf.SampleRate)); err != nil {
		return fmt.Errorf("write field: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return m.client.do(ctx, http.MethodPost, m.endpoint(op), w.FormDataContentType(), &body, out)
}

type recognizer struct{ model }

func (r *recognizer) Transcribe(
	ctx context.Context,
	buf *audio.Buffer,
	opts inference.TranscribeOptions,
) (*inference.Transcript, error) {
	fields := map[string]string{}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.BatchSize > 0 {
		fields["batch_size"] = strconv.Itoa(opts.BatchSize)
	}
	if opts.ChunkSize > 0 {
		fields["chunk_size"] = strconv.Itoa(opts.ChunkSize)
	}
	var out inference.Transcript
	if err := r.post(ctx, "transcribe", buf, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type aligner struct{ model }

func (a *aligner) Align(ctx context.Context, buf *audio.Buffer, segments []inference.Segment) ([]inference.Segment, error) {
	raw, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	var out struct {
		Segments []inference.Segment `json:"segments"`
	}
	if err := a.post(ctx, "align", buf, map[string]string{"segments": string(raw)}, &out); err != nil {
		return nil, err
	}
	return out.Segments, nil
}

type diarizer struct{ model }

func (d *diarizer) Diarize(
	ctx context.Context,
	buf *audio.Buffer,
	opts inference.DiarizeOptions,
) ([]inference.SpeakerTurn, error) {
	fields := map[string]string{}
	if opts.NumSpeakers != nil {
		fields["num_speakers"] = strconv.Itoa(*opts.NumSpeakers)
	}
	var out struct {
		Turns []inference.SpeakerTurn `json:"turns"`
	}
	if err := d.post(ctx, "diarize", buf, fields, &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}
