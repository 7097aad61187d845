// Package errors turns errors into short, stable class names for metric tags and logs.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/target/mmk-export-api/internal/domain/model"
)

// Classify returns a normalized class for err. Known export failures get a fixed name; anything
// else is named after its innermost concrete type in snake_case.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var (
		backend *model.SearchBackendError
		upload  *model.UploadError
	)
	switch {
	case goerrors.As(err, &backend):
		switch {
		case backend.Empty:
			return "search_empty"
		case backend.Timeout:
			return "search_timeout"
		default:
			return "search_backend"
		}
	case goerrors.As(err, &upload):
		return "upload"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, model.ErrJobConflict):
		return "job_conflict"
	case goerrors.Is(err, model.ErrInvalidQuery), goerrors.Is(err, model.ErrInvalidHandle):
		return "invalid_input"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
