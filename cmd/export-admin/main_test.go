package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-export-api/config"
	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
)

type scratchExporter struct{ dir string }

func (e scratchExporter) Export(_ context.Context, req core.ExportRequest) (*core.ExportResult, error) {
	path := filepath.Join(e.dir, req.JobHandle+".json")
	if err := os.WriteFile(path, []byte(`[{"id":"a"}]`), 0o600); err != nil {
		return nil, err
	}
	return &core.ExportResult{Path: path, Documents: 1}, nil
}

type staticPublisher struct{}

func (staticPublisher) Upload(_ context.Context, req core.UploadRequest) (*core.UploadResult, error) {
	return &core.UploadResult{ObjectID: "exports/" + req.JobHandle + ".json"}, nil
}

func (staticPublisher) Presign(_ context.Context, objectID string, ttl time.Duration) (model.DownloadLink, error) {
	return model.DownloadLink{URL: "https://bucket.example/" + objectID, ExpiresAt: time.Now().Add(ttl)}, nil
}

func newTestCommandContext(t *testing.T) (*commandContext, *bytes.Buffer) {
	t.Helper()
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("LEDGER_SQLITE_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv("EXPORT_SCRATCH_DIR", t.TempDir())

	var cfg config.AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Observability = config.ObservabilityConfig{}
	cfg.Sanitize()

	out := &bytes.Buffer{}
	return &commandContext{
		Ctx:       context.Background(),
		Logger:    slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Config:    cfg,
		Out:       out,
		Exporter:  scratchExporter{dir: cfg.Export.ScratchDir},
		Publisher: staticPublisher{},
	}, out
}

func TestAdminCommands_SubmitThenStatus(t *testing.T) {
	cmdCtx, out := newTestCommandContext(t)
	require.NoError(t, runMigrations(cmdCtx, nil))

	queryFile := filepath.Join(t.TempDir(), "query.json")
	require.NoError(t, os.WriteFile(queryFile, []byte(`{"searchType":"latest","id":["s-1"]}`), 0o600))

	out.Reset()
	require.NoError(t, runSubmit(cmdCtx, []string{"-owner", "U1", "-handle", "job-1", "-query", queryFile}))

	var submitted model.SearchJob
	require.NoError(t, json.Unmarshal(out.Bytes(), &submitted))
	assert.Equal(t, "job-1", submitted.JobHandle)
	assert.Equal(t, model.SearchJobStatusComplete, submitted.Status)
	require.NotNil(t, submitted.DownloadURL)
	assert.Contains(t, *submitted.DownloadURL, "exports/job-1.json")

	out.Reset()
	require.NoError(t, runStatus(cmdCtx, []string{"-owner", "U1", "-handle", "job-1"}))
	assert.Contains(t, out.String(), `"status": "complete"`)

	err := runStatus(cmdCtx, []string{"-owner", "U2", "-handle", "job-1"})
	require.ErrorIs(t, err, model.ErrSearchJobNotFound)

	out.Reset()
	require.NoError(t, runStats(cmdCtx, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"complete", "1"}, strings.Fields(lines[2]))

	out.Reset()
	require.NoError(t, runReap(cmdCtx, nil))
	assert.Contains(t, out.String(), "reaper pass complete")
}

func TestParseFlags(t *testing.T) {
	_, err := parseStatusFlags([]string{"-owner", "U1"})
	require.Error(t, err)

	_, err = parseSubmitFlags([]string{"-owner", "U1"})
	require.Error(t, err)

	opts, err := parseSubmitFlags([]string{"-owner", "U1", "-query", "q.json"})
	require.NoError(t, err)
	assert.Equal(t, defaultSubmitTimeout, opts.Timeout)
	assert.Empty(t, opts.Handle)

	_, err = parseMigrateFlags([]string{"-timeout", "0s"})
	require.Error(t, err)
}

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))
	for name := range commands() {
		assert.Contains(t, buf.String(), name)
	}
}
