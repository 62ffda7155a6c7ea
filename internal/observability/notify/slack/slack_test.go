package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/laviprog/speech-api/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#speech-alerts",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.TaskFailurePayload{
		TaskID:     "3f1d",
		Model:      "turbo",
		Language:   "ru",
		Error:      "asr sidecar returned 500",
		ErrorClass: "pipeline_asr",
		Metadata:   map[string]string{"attempts": "3"},
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#speech-alerts" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	for _, want := range []string{"Transcription failed", "`3f1d`", "turbo", "ru", "pipeline_asr", "asr sidecar returned 500", "attempts: 3", "critical"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message text missing %q: %s", want, text)
		}
	}
}

func TestFormatMessageTaskLink(t *testing.T) {
	tcs := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "valid prefix", prefix: "https://ops.example/tasks", want: "<https://ops.example/tasks/t-1|t-1>"},
		{name: "invalid prefix", prefix: "not a url", want: "`t-1`"},
		{name: "no prefix", want: "`t-1`"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/x", TaskURLPrefix: tc.prefix})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := client.taskRef("t-1"); got != tc.want {
				t.Fatalf("taskRef = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatMessageEscapesError(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, _ := client.formatMessage(notify.TaskFailurePayload{TaskID: "t", Error: "a & <b>"})["text"].(string)
	if !strings.Contains(text, "a &amp; &lt;b&gt;") {
		t.Fatalf("expected escaped error, got: %s", text)
	}
}

func TestSendTaskFailurePostsToWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendTaskFailure(context.Background(), notify.TaskFailurePayload{TaskID: "t-9"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["username"] != "speech-api" {
		t.Fatalf("expected default username, got %v", got["username"])
	}
}
