// Package metrics defines the metric names and tags emitted by the worker, broker and model cache.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/laviprog/speech-api/internal/observability/errors"
	"github.com/laviprog/speech-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultRetry   = "retry"
)

// Transitions reported by the worker.
const (
	TransitionStart    = "start"
	TransitionComplete = "complete"
	TransitionFail     = "fail"
	TransitionRetry    = "retry"
	TransitionSkip     = "skip"
)

// JobTypeTranscription tags every metric emitted for transcription tasks.
const JobTypeTranscription = "transcription"

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Attempt    int
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result != ResultSuccess {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, maps.Clone(tags))
	}
}

// ModelLoadMetric describes one model cache load.
type ModelLoadMetric struct {
	Kind     string
	ID       string
	Duration time.Duration
	Err      error
}

// EmitModelLoad reports a model cache miss and how long the load took.
func EmitModelLoad(sink statsd.Sink, in ModelLoadMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"kind":   in.Kind,
		"model":  in.ID,
		"result": ResultSuccess,
	}
	if in.Err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(in.Err)
	}
	sink.Count("model.load", 1, tags)
	if in.Duration > 0 {
		sink.Timing("model.load_duration", in.Duration, maps.Clone(tags))
	}
}

// EmitQueueDepth reports broker backlog gauges, one per queue section.
func EmitQueueDepth(sink statsd.Sink, queue string, depths map[string]int64) {
	if sink == nil {
		return
	}
	for section, n := range depths {
		sink.Gauge("queue.depth", float64(n), map[string]string{"queue": queue, "section": section})
	}
}
