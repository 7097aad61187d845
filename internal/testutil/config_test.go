package testutil

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to local test database port 55432", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}

		cfg := DefaultTestDBConfig()
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, "55432", cfg.Port)
		assert.Equal(t, "mmkexport", cfg.User)
		assert.Equal(t, "mmkexport", cfg.Password)
		assert.Equal(t, "mmkexport", cfg.DBName)
	})

	t.Run("respects TEST_DB_PORT environment variable", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")

		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
	})
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/tmp/ledger.db")
	assert.Contains(t, dsn, "file:/tmp/ledger.db?")
	assert.Contains(t, dsn, "_pragma=foreign_keys(1)")
	assert.Contains(t, dsn, "_time_format=sqlite")
}

func TestRunConcurrent(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")

	errs := RunConcurrent(
		func() error { calls.Add(1); return nil },
		func() error { calls.Add(1); return boom },
		func() error { calls.Add(1); return nil },
	)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []error{nil, boom, nil}, errs)
}
