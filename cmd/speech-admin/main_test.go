package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/adapters/redisqueue"
	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/service"
)

func TestPrintUsageListsEveryCommandSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))

	out := buf.String()
	prev := -1
	for _, name := range []string{
		"create-api-key", "dead-letters", "migrate", "queue-stats", "requeue-expired",
		"revoke-api-key", "sidecar-health", "status", "submit",
	} {
		idx := strings.Index(out, "  "+name+" ")
		require.GreaterOrEqual(t, idx, 0, name)
		assert.Greater(t, idx, prev, "commands must be sorted")
		prev = idx
	}
}

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)

	opts, err = parseMigrateFlags([]string{"--timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	require.Error(t, err)
}

func TestParseSubmitFlags(t *testing.T) {
	opts, err := parseSubmitFlags([]string{
		"--api-key-id", "5f0c2f8e-8a51-4b8c-9d0e-1a2b3c4d5e6f",
		"--file", "/data/call.wav",
		"--language", "EN",
		"--num-speakers", "2",
		"--recognition",
	})
	require.NoError(t, err)
	assert.Equal(t, "turbo", opts.Model)

	in := opts.input(strings.NewReader("RIFF"))
	assert.Equal(t, "call.wav", in.Filename)
	assert.Equal(t, model.ASRModelTurbo, in.Model)
	require.NotNil(t, in.Language)
	assert.Equal(t, model.LanguageEnglish, *in.Language)
	require.NotNil(t, in.NumSpeakers)
	assert.Equal(t, 2, *in.NumSpeakers)
	assert.True(t, in.RecognitionMode)
	assert.False(t, in.AlignMode)
}

func TestParseSubmitFlags_Defaults(t *testing.T) {
	opts, err := parseSubmitFlags([]string{"--api-key-id", "k", "--file", "a.mp3"})
	require.NoError(t, err)

	in := opts.input(strings.NewReader(""))
	assert.Nil(t, in.Language)
	assert.Nil(t, in.NumSpeakers)
}

func TestParseSubmitFlags_Required(t *testing.T) {
	_, err := parseSubmitFlags([]string{"--file", "a.wav"})
	require.ErrorContains(t, err, "--api-key-id")

	_, err = parseSubmitFlags([]string{"--api-key-id", "k"})
	require.ErrorContains(t, err, "--file")

	_, err = parseSubmitFlags([]string{"--api-key-id", "k", "--file", "a.wav", "--num-speakers", "-1"})
	require.Error(t, err)
}

func TestParseKeyFlags(t *testing.T) {
	opts, err := parseCreateKeyFlags([]string{"--name", "  billing  "})
	require.NoError(t, err)
	assert.Equal(t, "billing", opts.Name)

	_, err = parseCreateKeyFlags(nil)
	require.Error(t, err)

	_, err = parseRevokeKeyFlags(nil)
	require.Error(t, err)
}

func TestParseRequeueFlags(t *testing.T) {
	opts, err := parseRequeueFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultRequeueLimit, opts.Limit)

	_, err = parseRequeueFlags([]string{"--limit", "0"})
	require.Error(t, err)
}

func TestParseDeadLetterFlags(t *testing.T) {
	opts, err := parseDeadLetterFlags([]string{"--id", " m1 "})
	require.NoError(t, err)
	assert.Equal(t, deadLetterOptions{Limit: defaultDeadLetterLimit, ID: "m1"}, opts)

	_, err = parseDeadLetterFlags([]string{"--limit", "-1"})
	require.Error(t, err)
}

func TestRenderDeadLetters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderDeadLetters(&buf, "transcription", nil))
	assert.Contains(t, buf.String(), "no dead-lettered deliveries")

	buf.Reset()
	err := renderDeadLetters(&buf, "transcription", []redisqueue.DeadMessage{
		{ID: "m1", Task: model.TaskNameTranscribe, Reason: "unknown task", EnqueuedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "m2", Reason: "malformed envelope"},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Regexp(t, `m1\s+`+model.TaskNameTranscribe+`\s+2024-01-01T12:00:00Z\s+unknown task`, out)
	assert.Regexp(t, `m2\s+-\s+malformed envelope`, out)
}

func TestRenderQueueStats(t *testing.T) {
	var buf bytes.Buffer
	err := renderQueueStats(&buf, "transcription",
		model.QueueStats{Pending: 3, InFlight: 1, Delayed: 2},
		model.TaskStats{model.TaskStatusPending: 4, model.TaskStatusCompleted: 9},
	)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `Queue "transcription"`)
	assert.Regexp(t, `pending\s+3`, out)
	assert.Regexp(t, `in_flight\s+1`, out)
	assert.Regexp(t, `PENDING\s+4`, out)
	assert.Regexp(t, `COMPLETED\s+9`, out)
	assert.Regexp(t, `CANCELED\s+0`, out)
}

func TestPrintIssuedKeyShowsRawOnce(t *testing.T) {
	var buf bytes.Buffer
	cmdCtx := &commandContext{Out: &buf}
	err := printIssuedKey(cmdCtx, &service.IssuedAPIKey{
		Key: &model.APIKey{ID: "id-1", Name: "billing", KeyPrefix: "sk_abcdefgh"},
		Raw: "sk_abcdefgh0123",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "sk_abcdefgh0123"))
	assert.Contains(t, buf.String(), "cannot be shown again")
}
