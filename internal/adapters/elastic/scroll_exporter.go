// Package elastic exports search results from Elasticsearch into scratch files using the scroll API.
package elastic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
)

const (
	defaultPageSize        = 1000
	defaultScrollKeepAlive = time.Minute
	defaultPageTimeout     = 30 * time.Second
	defaultExportTimeout   = 30 * time.Minute
	clearScrollTimeout     = 5 * time.Second
)

// ScrollExporterOptions configures a ScrollExporter.
type ScrollExporterOptions struct {
	Client          *elasticsearch.Client
	Indices         []string
	ScratchDir      string
	Fields          Fields
	PageSize        int
	ScrollKeepAlive time.Duration
	PageTimeout     time.Duration
	ExportTimeout   time.Duration
	MaxDocuments    int64 // 0 disables the limit
	Logger          *slog.Logger
	Tracer          trace.Tracer
}

// ScrollExporter implements core.ScrollExporter.
type ScrollExporter struct {
	client *elasticsearch.Client
	opts   ScrollExporterOptions
	logger *slog.Logger
	tracer trace.Tracer
}

var (
	_ core.ScrollExporter = (*ScrollExporter)(nil)
	_ core.QueryValidator = (*ScrollExporter)(nil)
)

// NewScrollExporter creates a ScrollExporter and ensures the scratch directory exists.
func NewScrollExporter(opts ScrollExporterOptions) (*ScrollExporter, error) {
	if opts.Client == nil {
		return nil, errors.New("elasticsearch client is required")
	}
	if opts.ScratchDir == "" {
		return nil, errors.New("scratch directory is required")
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.ScrollKeepAlive <= 0 {
		opts.ScrollKeepAlive = defaultScrollKeepAlive
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = defaultExportTimeout
	}
	if opts.Fields.ID == "" {
		opts.Fields.ID = "id"
	}
	if opts.Fields.Time == "" {
		opts.Fields.Time = "observationDateTime"
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/target/mmk-export-api/internal/adapters/elastic")
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "scroll_exporter")
	}

	return &ScrollExporter{client: opts.Client, opts: opts, logger: logger, tracer: tracer}, nil
}

// ValidateQuery rejects payloads the exporter could never translate.
func (e *ScrollExporter) ValidateQuery(query []byte) error {
	_, err := BuildSearchBody(query, e.opts.Fields)
	return err
}

// scrollPage is the subset of a search or scroll response the exporter reads.
type scrollPage struct {
	ScrollID string `json:"_scroll_id"`
	TimedOut bool   `json:"timed_out"`
	Shards   struct {
		Failed int `json:"failed"`
	} `json:"_shards"`
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Export writes every document matching req.Query to <scratch>/<handle>.json as a JSON array.
func (e *ScrollExporter) Export(ctx context.Context, req core.ExportRequest) (res *core.ExportResult, err error) {
	if err := model.ValidateHandle(req.JobHandle); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "elastic.scroll_export",
		trace.WithAttributes(attribute.String("job_handle", req.JobHandle)))
	defer func() {
		if err != nil && !model.IsEmptyResult(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := BuildSearchBody(req.Query, e.opts.Fields)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.ExportTimeout)
	defer cancel()

	path := filepath.Join(e.opts.ScratchDir, req.JobHandle+".json")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() {
		if err != nil && !model.IsEmptyResult(err) {
			_ = os.Remove(path)
		}
	}()

	w := &countingWriter{w: bufio.NewWriterSize(f, 256*1024)}
	docs, scrollErr := e.scroll(ctx, body, w)
	closeErr := w.finish(f)
	if scrollErr != nil {
		return nil, scrollErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("write scratch file: %w", closeErr)
	}

	res = &core.ExportResult{Path: path, Documents: docs, Bytes: w.n}
	span.SetAttributes(attribute.Int64("documents", docs), attribute.Int64("bytes", w.n))
	if e.logger != nil {
		e.logger.DebugContext(ctx, "scroll export finished",
			"job_handle", req.JobHandle,
			"documents", docs,
			"bytes", w.n,
		)
	}
	if docs == 0 {
		return res, &model.SearchBackendError{Empty: true}
	}
	return res, nil
}

func (e *ScrollExporter) scroll(ctx context.Context, body map[string]any, w *countingWriter) (int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, fmt.Errorf("encode search body: %w", err)
	}

	if _, err := w.WriteString("["); err != nil {
		return 0, err
	}

	var scrollID string
	defer func() { e.clearScroll(ctx, scrollID) }()

	page, err := e.firstPage(ctx, &buf)
	var docs int64
	for err == nil {
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
		if page.TimedOut {
			return docs, &model.SearchBackendError{Timeout: true, Err: errors.New("search timed out on the server")}
		}
		if page.Shards.Failed > 0 {
			return docs, &model.SearchBackendError{Err: fmt.Errorf("%d shards failed", page.Shards.Failed)}
		}
		if len(page.Hits.Hits) == 0 {
			break
		}

		for _, hit := range page.Hits.Hits {
			if !hasSource(hit.Source) {
				return docs, &model.SearchBackendError{Err: fmt.Errorf("hit %s returned without _source", hit.ID)}
			}
			if docs > 0 {
				if _, werr := w.WriteString(","); werr != nil {
					return docs, werr
				}
			}
			if _, werr := w.Write(hit.Source); werr != nil {
				return docs, fmt.Errorf("write document: %w", werr)
			}
			docs++
			if e.opts.MaxDocuments > 0 && docs > e.opts.MaxDocuments {
				return docs, &model.SearchBackendError{
					Err: fmt.Errorf("result exceeds %d documents", e.opts.MaxDocuments),
				}
			}
		}

		page, err = e.nextPage(ctx, scrollID)
	}
	if err != nil {
		return docs, err
	}

	if _, werr := w.WriteString("]"); werr != nil {
		return docs, werr
	}
	return docs, nil
}

func (e *ScrollExporter) firstPage(ctx context.Context, body io.Reader) (*scrollPage, error) {
	pageCtx, cancel := context.WithTimeout(ctx, e.opts.PageTimeout)
	defer cancel()

	s := e.client.Search
	res, err := s(
		s.WithContext(pageCtx),
		s.WithIndex(e.opts.Indices...),
		s.WithBody(body),
		s.WithScroll(e.opts.ScrollKeepAlive),
		s.WithSize(e.opts.PageSize),
	)
	return decodePage(pageCtx, res, err)
}

func (e *ScrollExporter) nextPage(ctx context.Context, scrollID string) (*scrollPage, error) {
	if scrollID == "" {
		return nil, &model.SearchBackendError{Err: errors.New("response carried no scroll id")}
	}

	pageCtx, cancel := context.WithTimeout(ctx, e.opts.PageTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"scroll_id": scrollID})
	if err != nil {
		return nil, fmt.Errorf("encode scroll request: %w", err)
	}

	s := e.client.Scroll
	res, err := s(
		s.WithContext(pageCtx),
		s.WithBody(bytes.NewReader(body)),
		s.WithScroll(e.opts.ScrollKeepAlive),
	)
	return decodePage(pageCtx, res, err)
}

func decodePage(ctx context.Context, res *esapi.Response, err error) (*scrollPage, error) {
	if err != nil {
		if ctx.Err() != nil {
			return nil, &model.SearchBackendError{Timeout: true, Err: err}
		}
		return nil, &model.SearchBackendError{Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &model.SearchBackendError{
			Err: fmt.Errorf("search returned status %d: %s", res.StatusCode, bytes.TrimSpace(msg)),
		}
	}

	var page scrollPage
	if decErr := json.NewDecoder(res.Body).Decode(&page); decErr != nil {
		if ctx.Err() != nil {
			return nil, &model.SearchBackendError{Timeout: true, Err: decErr}
		}
		return nil, &model.SearchBackendError{Err: fmt.Errorf("decode search response: %w", decErr)}
	}
	return &page, nil
}

// clearScroll releases the server side cursor even when ctx is already done.
func (e *ScrollExporter) clearScroll(ctx context.Context, scrollID string) {
	if scrollID == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearScrollTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
	c := e.client.ClearScroll
	res, err := c(c.WithContext(cctx), c.WithBody(bytes.NewReader(body)))
	if err != nil {
		if e.logger != nil {
			e.logger.WarnContext(ctx, "failed to clear scroll", "error", err)
		}
		return
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 && e.logger != nil {
		e.logger.WarnContext(ctx, "failed to clear scroll", "status", res.StatusCode)
	}
}

// countingWriter tracks bytes written through a buffered writer.
type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) WriteString(s string) (int, error) {
	n, err := c.w.WriteString(s)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) finish(f *os.File) error {
	flushErr := c.w.Flush()
	closeErr := f.Close()
	return errors.Join(flushErr, closeErr)
}

func hasSource(src json.RawMessage) bool {
	src = bytes.TrimSpace(src)
	return len(src) > 0 && !bytes.Equal(src, []byte("null"))
}
