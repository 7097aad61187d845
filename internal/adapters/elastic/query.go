package elastic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/mmk-export-api/internal/domain/model"
)

// Time relations accepted in the simplified query form.
const (
	TimeRelDuring  = "during"
	TimeRelBetween = "between"
	TimeRelBefore  = "before"
	TimeRelAfter   = "after"
)

// Fields names the document fields the simplified query form filters on.
type Fields struct {
	ID   string
	Time string
}

// simpleQuery is the non-DSL payload: an identifier filter, an optional temporal window, and an
// optional projection.
type simpleQuery struct {
	ID      json.RawMessage `json:"id"`
	IDs     []string        `json:"ids"`
	Time    string          `json:"time"`
	EndTime string          `json:"endtime"`
	TimeRel string          `json:"timerel"`
	Attrs   []string        `json:"attrs"`
}

// BuildSearchBody turns a submitted payload into a search request body sorted by _doc.
//
// Payloads carrying a "query" key are treated as search DSL and forwarded with only the sort
// forced. Anything else is read as the simplified form.
func BuildSearchBody(payload []byte, fields Fields) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidQuery, err)
	}

	if _, ok := raw["query"]; ok {
		if err := requireSource(raw); err != nil {
			return nil, err
		}
		body := make(map[string]any, len(raw)+1)
		for k, v := range raw {
			body[k] = v
		}
		// Paging is owned by the scroll.
		delete(body, "from")
		delete(body, "size")
		body["sort"] = []string{"_doc"}
		return body, nil
	}

	var q simpleQuery
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidQuery, err)
	}

	filters, err := q.filters(fields)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: query needs an id or a time window", model.ErrInvalidQuery)
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"sort":  []string{"_doc"},
	}
	if len(q.Attrs) > 0 {
		body["_source"] = map[string]any{"includes": q.Attrs}
	}
	return body, nil
}

func (q simpleQuery) filters(fields Fields) ([]any, error) {
	var filters []any

	ids, err := q.identifiers()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{fields.ID: ids}})
	}

	window, err := q.timeRange()
	if err != nil {
		return nil, err
	}
	if window != nil {
		filters = append(filters, map[string]any{"range": map[string]any{fields.Time: window}})
	}
	return filters, nil
}

// identifiers accepts "id" as a string or list and merges it with "ids".
func (q simpleQuery) identifiers() ([]string, error) {
	ids := append([]string(nil), q.IDs...)
	if len(q.ID) == 0 {
		return ids, nil
	}

	var one string
	if err := json.Unmarshal(q.ID, &one); err == nil {
		return append(ids, one), nil
	}
	var many []string
	if err := json.Unmarshal(q.ID, &many); err != nil {
		return nil, fmt.Errorf("%w: id must be a string or a list of strings", model.ErrInvalidQuery)
	}
	return append(ids, many...), nil
}

func (q simpleQuery) timeRange() (map[string]any, error) {
	if q.TimeRel == "" && q.Time == "" && q.EndTime == "" {
		return nil, nil //nolint:nilnil // no temporal window requested
	}

	start, err := parseTime("time", q.Time)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(q.TimeRel) {
	case TimeRelDuring, TimeRelBetween:
		end, endErr := parseTime("endtime", q.EndTime)
		if endErr != nil {
			return nil, endErr
		}
		if end.Before(start) {
			return nil, fmt.Errorf("%w: endtime precedes time", model.ErrInvalidQuery)
		}
		return map[string]any{"gte": q.Time, "lte": q.EndTime}, nil
	case TimeRelBefore:
		return map[string]any{"lt": q.Time}, nil
	case TimeRelAfter:
		return map[string]any{"gt": q.Time}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported timerel %q", model.ErrInvalidQuery, q.TimeRel)
	}
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required for temporal queries", model.ErrInvalidQuery, field)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.Join(model.ErrInvalidQuery, fmt.Errorf("%s: %w", field, err))
	}
	return t, nil
}

// requireSource rejects search DSL that would return hits without a _source document, since
// the artifact is built from _source alone.
func requireSource(raw map[string]json.RawMessage) error {
	src, hasSource := raw["_source"]
	if hasSource && bytes.Equal(bytes.TrimSpace(src), []byte("false")) {
		return fmt.Errorf("%w: _source must not be disabled", model.ErrInvalidQuery)
	}
	if _, ok := raw["stored_fields"]; ok && !hasSource {
		return fmt.Errorf("%w: stored_fields requires an explicit _source", model.ErrInvalidQuery)
	}
	return nil
}
