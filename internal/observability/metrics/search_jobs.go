// Package metrics emits the search job lifecycle metrics.
package metrics

import (
	"time"

	"github.com/target/mmk-export-api/internal/domain/model"
	obserrors "github.com/target/mmk-export-api/internal/observability/errors"
	"github.com/target/mmk-export-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultEmpty   = "empty"
	ResultNoop    = "noop"
)

// Metric names.
const (
	MetricSubmit     = "search_job.submit"
	MetricTransition = "search_job.transition"
	MetricDuration   = "search_job.duration"
	MetricPresign    = "search_job.presign"
	MetricStatus     = "search_job.status"
)

// SubmitMetric describes one submission. Outcome is empty when the submission failed.
type SubmitMetric struct {
	Outcome model.SubmitOutcome
	Err     error
}

// EmitSubmit counts a submission by outcome: new, reused, aliased or error.
func EmitSubmit(sink statsd.Sink, in SubmitMetric) {
	if sink == nil {
		return
	}
	result := string(in.Outcome)
	if in.Err != nil || result == "" {
		result = ResultError
	}
	tags := map[string]string{"result": result}
	addErrorClass(tags, in.Err)
	sink.Count(MetricSubmit, 1, tags)
}

// TransitionMetric captures the end of a background export.
type TransitionMetric struct {
	To       model.SearchJobStatus
	Duration time.Duration
	Empty    bool
	Err      error
}

// EmitTransition emits search_job.transition and, when known, search_job.duration.
func EmitTransition(sink statsd.Sink, in TransitionMetric) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case in.To == model.SearchJobStatusError:
		result = ResultError
	case in.Empty:
		result = ResultEmpty
	}
	tags := map[string]string{
		"transition": string(model.SearchJobStatusRunning) + "_to_" + string(in.To),
		"result":     result,
	}
	if in.To == model.SearchJobStatusError {
		addErrorClass(tags, in.Err)
	}

	sink.Count(MetricTransition, 1, tags)
	if in.Duration > 0 {
		sink.Timing(MetricDuration, in.Duration, CloneTags(tags))
	}
}

// EmitPresign counts a link minted outside the export pipeline. reason is "refresh" or "reuse".
func EmitPresign(sink statsd.Sink, reason string, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"reason": reason, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		addErrorClass(tags, err)
	}
	sink.Count(MetricPresign, 1, tags)
}

// EmitStatus counts a status lookup by the status returned and whether it came from cache.
func EmitStatus(sink statsd.Sink, status model.SearchJobStatus, cached bool) {
	if sink == nil {
		return
	}
	source := "ledger"
	if cached {
		source = "cache"
	}
	sink.Count(MetricStatus, 1, map[string]string{"status": string(status), "source": source})
}

func addErrorClass(tags map[string]string, err error) {
	if err == nil {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
