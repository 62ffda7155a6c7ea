package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/laviprog/speech-api/internal/adapters/redisqueue"
	"github.com/laviprog/speech-api/internal/adapters/sidecar"
	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/service"
)

type submitOptions struct {
	APIKeyID        string
	File            string
	Model           string
	Language        string
	NumSpeakers     int
	RecognitionMode bool
	AlignMode       bool
}

type statusOptions struct {
	ID string
}

type requeueOptions struct {
	Limit int
}

type deadLetterOptions struct {
	Limit int
	ID    string
}

const defaultDeadLetterLimit = 50

const defaultRequeueLimit = 500

func runSubmit(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubmitFlags(args)
	if err != nil {
		return err
	}

	f, err := os.Open(opts.File)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("close audio failed", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withServices(cmdCtx, func(conns *infra) error {
		task, err := conns.Services.Dispatch.Submit(ctx, opts.input(f))
		if err != nil {
			return err
		}
		return printJSON(cmdCtx.Out, task)
	})
}

func (o submitOptions) input(audio io.Reader) service.SubmitInput {
	in := service.SubmitInput{
		APIKeyID:        o.APIKeyID,
		Filename:        filepath.Base(o.File),
		Audio:           audio,
		Model:           model.ASRModel(o.Model),
		RecognitionMode: o.RecognitionMode,
		AlignMode:       o.AlignMode,
	}
	if o.Language != "" {
		lang := model.Language(o.Language)
		in.Language = &lang
	}
	if o.NumSpeakers > 0 {
		n := o.NumSpeakers
		in.NumSpeakers = &n
	}
	return in
}

func parseSubmitFlags(args []string) (submitOptions, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts submitOptions
	fs.StringVar(&opts.APIKeyID, "api-key-id", "", "Owner API key id (required)")
	fs.StringVar(&opts.File, "file", "", "Path to a .wav or .mp3 file (required)")
	fs.StringVar(&opts.Model, "model", string(model.DefaultASRModel), "ASR model: small, medium or turbo")
	fs.StringVar(&opts.Language, "language", "", "Language code (ru, en); empty detects")
	fs.IntVar(&opts.NumSpeakers, "num-speakers", 0, "Expected speaker count for diarization (1-15)")
	fs.BoolVar(&opts.RecognitionMode, "recognition", false, "Label segments with speakers")
	fs.BoolVar(&opts.AlignMode, "align", false, "Align word timestamps")

	if err := fs.Parse(args); err != nil {
		return submitOptions{}, err
	}
	opts.APIKeyID = strings.TrimSpace(opts.APIKeyID)
	opts.File = strings.TrimSpace(opts.File)
	opts.Model = strings.ToLower(strings.TrimSpace(opts.Model))
	opts.Language = strings.ToLower(strings.TrimSpace(opts.Language))

	if opts.APIKeyID == "" {
		return submitOptions{}, errors.New("--api-key-id is required")
	}
	if opts.File == "" {
		return submitOptions{}, errors.New("--file is required")
	}
	if opts.NumSpeakers < 0 {
		return submitOptions{}, errors.New("--num-speakers must not be negative")
	}
	return opts, nil
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseStatusFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withServices(cmdCtx, func(conns *infra) error {
		task, err := conns.Services.Dispatch.Lookup(ctx, opts.ID)
		if err != nil {
			return err
		}
		return printJSON(cmdCtx.Out, task)
	})
}

func parseStatusFlags(args []string) (statusOptions, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts statusOptions
	fs.StringVar(&opts.ID, "id", "", "Task id (required)")
	if err := fs.Parse(args); err != nil {
		return statusOptions{}, err
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return statusOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func runQueueStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withServices(cmdCtx, func(conns *infra) error {
		queueStats, err := conns.Services.Queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}
		taskStats, err := conns.Services.Dispatch.Stats(ctx)
		if err != nil {
			return err
		}
		return renderQueueStats(cmdCtx.Out, conns.Services.Queue.Name(), queueStats, taskStats)
	})
}

func renderQueueStats(w io.Writer, queue string, qs model.QueueStats, ts model.TaskStats) error {
	if err := writef(w, "Queue %q\n", queue); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	sections := qs.Sections()
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(tw, "  %s\t%d\n", name, sections[name]); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if err := writef(w, "\nTasks\n"); err != nil {
		return err
	}
	for _, status := range []model.TaskStatus{
		model.TaskStatusPending,
		model.TaskStatusInProgress,
		model.TaskStatusCompleted,
		model.TaskStatusFailed,
		model.TaskStatusCanceled,
	} {
		if err := writef(tw, "  %s\t%d\n", status, ts[status]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runRequeueExpired(cmdCtx *commandContext, args []string) error {
	opts, err := parseRequeueFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withServices(cmdCtx, func(conns *infra) error {
		expired, err := conns.Services.Queue.RequeueExpired(ctx, opts.Limit)
		if err != nil {
			return fmt.Errorf("requeue expired: %w", err)
		}
		due, err := conns.Services.Queue.PromoteDue(ctx, opts.Limit)
		if err != nil {
			return fmt.Errorf("promote due retries: %w", err)
		}
		return writef(cmdCtx.Out, "requeued %d expired deliveries, promoted %d due retries\n", expired, due)
	})
}

func parseRequeueFlags(args []string) (requeueOptions, error) {
	fs := flag.NewFlagSet("requeue-expired", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := requeueOptions{Limit: defaultRequeueLimit}
	fs.IntVar(&opts.Limit, "limit", defaultRequeueLimit, "Maximum deliveries moved per step")
	if err := fs.Parse(args); err != nil {
		return requeueOptions{}, err
	}
	if opts.Limit <= 0 {
		return requeueOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func runDeadLetters(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeadLetterFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withServices(cmdCtx, func(conns *infra) error {
		queue := conns.Services.Queue
		if opts.ID != "" {
			reason, err := queue.DeadReason(ctx, opts.ID)
			if err != nil {
				return fmt.Errorf("dead reason: %w", err)
			}
			if reason == "" {
				return writef(cmdCtx.Out, "%s is not dead-lettered\n", opts.ID)
			}
			return writef(cmdCtx.Out, "%s: %s\n", opts.ID, reason)
		}
		dead, err := queue.DeadLetters(ctx, opts.Limit)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}
		return renderDeadLetters(cmdCtx.Out, queue.Name(), dead)
	})
}

func parseDeadLetterFlags(args []string) (deadLetterOptions, error) {
	fs := flag.NewFlagSet("dead-letters", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := deadLetterOptions{Limit: defaultDeadLetterLimit}
	fs.IntVar(&opts.Limit, "limit", defaultDeadLetterLimit, "Maximum entries listed, most recent first")
	fs.StringVar(&opts.ID, "id", "", "Show the dead-letter reason of one message id")
	if err := fs.Parse(args); err != nil {
		return deadLetterOptions{}, err
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.Limit <= 0 {
		return deadLetterOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func renderDeadLetters(w io.Writer, queue string, dead []redisqueue.DeadMessage) error {
	if len(dead) == 0 {
		return writef(w, "Queue %q has no dead-lettered deliveries\n", queue)
	}
	if err := writef(w, "Queue %q dead letters\n", queue); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "  ID\tTASK\tENQUEUED\tREASON\n"); err != nil {
		return err
	}
	for _, d := range dead {
		enqueued := "-"
		if !d.EnqueuedAt.IsZero() {
			enqueued = d.EnqueuedAt.UTC().Format(time.RFC3339)
		}
		if err := writef(tw, "  %s\t%s\t%s\t%s\n", d.ID, d.Task, enqueued, d.Reason); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runSidecarHealth(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	inf := cmdCtx.Config.Inference
	client := sidecar.NewClient(sidecar.Config{
		ASRURL:         inf.ASRURL,
		DiarizationURL: inf.DiarizationURL,
		Timeout:        inf.Timeout,
		Logger:         cmdCtx.Logger,
	})
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("sidecar unhealthy: %w", err)
	}
	return writeln(cmdCtx.Out, "sidecars healthy")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
