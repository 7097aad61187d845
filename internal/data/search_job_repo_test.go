package data

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/data/database"
	"github.com/target/mmk-export-api/internal/domain/model"
	"github.com/target/mmk-export-api/internal/testutil"
)

type ledgerFixture struct {
	db      *sql.DB
	dialect database.Dialect
	repo    *SearchJobRepo
	clock   *FixedTimeProvider
}

// forEachLedger runs fn against SQLite and, when reachable, Postgres.
func forEachLedger(t *testing.T, fn func(t *testing.T, f ledgerFixture)) {
	t.Helper()

	setups := []struct {
		dialect database.Dialect
		open    func(testutil.TestingTB) *sql.DB
	}{
		{dialect: database.SQLite, open: testutil.SetupSQLiteDB},
		{dialect: database.Postgres, open: testutil.SetupPostgresDB},
	}

	for _, s := range setups {
		t.Run(string(s.dialect), func(t *testing.T) {
			db := s.open(t)
			clock := NewFixedTimeProvider(testutil.TestTime())
			fn(t, ledgerFixture{
				db:      db,
				dialect: s.dialect,
				clock:   clock,
				repo: NewSearchJobRepo(db, SearchJobRepoConfig{
					Dialect:      s.dialect,
					TimeProvider: clock,
				}),
			})
		})
	}
}

func fp(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func completeParams(handle string, expires time.Time) core.MarkCompleteParams {
	return core.MarkCompleteParams{
		JobHandle: handle,
		ObjectID:  "exports/" + handle + ".json",
		Link: model.DownloadLink{
			URL:       "https://bucket.example/exports/" + handle + ".json?sig=1",
			ExpiresAt: expires,
		},
	}
}

func TestSearchJobRepo_InsertRunningAndFind(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()

		job, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h1", OwnerID: "U1",
		})
		require.NoError(t, err)
		assert.Equal(t, model.SearchJobStatusRunning, job.Status)
		assert.True(t, job.Canonical)

		byFP, err := f.repo.FindByFingerprint(ctx, fp("q1"))
		require.NoError(t, err)
		require.NotNil(t, byFP)
		assert.Equal(t, "h1", byFP.JobHandle)
		assert.Equal(t, "U1", byFP.OwnerID)
		assert.True(t, byFP.CreatedAt.Equal(testutil.TestTime()))

		byHandle, err := f.repo.FindByHandle(ctx, "U1", "h1")
		require.NoError(t, err)
		require.NotNil(t, byHandle)
		assert.Equal(t, fp("q1"), byHandle.Fingerprint)
		assert.Nil(t, byHandle.OriginHandle)

		missing, err := f.repo.FindByFingerprint(ctx, fp("other"))
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestSearchJobRepo_FindByHandle_OwnerIsolation(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h1", OwnerID: "U1",
		})
		require.NoError(t, err)

		other, err := f.repo.FindByHandle(ctx, "U2", "h1")
		require.NoError(t, err)
		assert.Nil(t, other)

		unknown, err := f.repo.FindByHandle(ctx, "U1", "nope")
		require.NoError(t, err)
		assert.Nil(t, unknown)
	})
}

func TestSearchJobRepo_InsertRunning_Duplicates(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h1", OwnerID: "U1",
		})
		require.NoError(t, err)

		_, err = f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h2", OwnerID: "U1",
		})
		require.ErrorIs(t, err, model.ErrDuplicateFingerprint)

		_, err = f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q2"), JobHandle: "h1", OwnerID: "U1",
		})
		require.ErrorIs(t, err, model.ErrDuplicateHandle)
	})
}

func TestSearchJobRepo_MarkComplete_FansOutToAliases(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "origin", OwnerID: "U1",
		})
		require.NoError(t, err)

		alias, err := f.repo.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle: "alias", OwnerID: "U1", OriginHandle: "origin",
		})
		require.NoError(t, err)
		assert.Equal(t, model.SearchJobStatusRunning, alias.Status)
		assert.False(t, alias.Canonical)
		require.NotNil(t, alias.OriginHandle)
		assert.Equal(t, "origin", *alias.OriginHandle)
		assert.Equal(t, fp("q1"), alias.Fingerprint)

		expires := testutil.TestTime().Add(time.Hour)
		require.NoError(t, f.repo.MarkComplete(ctx, completeParams("origin", expires)))

		for _, h := range []string{"origin", "alias"} {
			got, findErr := f.repo.FindByHandle(ctx, "U1", h)
			require.NoError(t, findErr)
			require.NotNil(t, got)
			assert.Equal(t, model.SearchJobStatusComplete, got.Status, h)
			require.NotNil(t, got.ObjectID)
			assert.Equal(t, "exports/origin.json", *got.ObjectID)
			require.NotNil(t, got.URLExpiry)
			assert.True(t, got.URLExpiry.Equal(expires))
			assert.NotNil(t, got.CompletedAt)
		}

		// Terminal states do not change.
		err = f.repo.MarkError(ctx, "origin", "late failure")
		require.ErrorIs(t, err, model.ErrSearchJobNotFound)
	})
}

func TestSearchJobRepo_InsertAlias_OfCompleteWithFreshURL(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "origin", OwnerID: "U1",
		})
		require.NoError(t, err)
		require.NoError(t, f.repo.MarkComplete(ctx, completeParams("origin", testutil.TestTime().Add(time.Minute))))

		freshExpiry := testutil.TestTime().Add(2 * time.Hour)
		alias, err := f.repo.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle:    "alias",
			OwnerID:      "U1",
			OriginHandle: "origin",
			DownloadURL:  testutil.StringPtr("https://fresh.example/x"),
			URLExpiry:    &freshExpiry,
		})
		require.NoError(t, err)
		assert.Equal(t, model.SearchJobStatusComplete, alias.Status)
		require.NotNil(t, alias.DownloadURL)
		assert.Equal(t, "https://fresh.example/x", *alias.DownloadURL)
		assert.True(t, alias.URLExpiry.Equal(freshExpiry))
		assert.Equal(t, "exports/origin.json", *alias.ObjectID)

		// The origin keeps its own link.
		origin, err := f.repo.FindByHandle(ctx, "U1", "origin")
		require.NoError(t, err)
		assert.NotEqual(t, *alias.DownloadURL, *origin.DownloadURL)

		// A complete canonical row still blocks a second fresh export.
		canonical, err := f.repo.FindByFingerprint(ctx, fp("q1"))
		require.NoError(t, err)
		assert.Equal(t, "origin", canonical.JobHandle)
	})
}

func TestSearchJobRepo_InsertAlias_Errors(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()

		_, err := f.repo.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle: "alias", OwnerID: "U1", OriginHandle: "ghost",
		})
		require.ErrorIs(t, err, model.ErrSearchJobNotFound)

		_, err = f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "origin", OwnerID: "U1",
		})
		require.NoError(t, err)

		_, err = f.repo.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle: "origin", OwnerID: "U1", OriginHandle: "origin",
		})
		require.ErrorIs(t, err, model.ErrDuplicateHandle)
	})
}

func TestSearchJobRepo_MarkError_ReleasesFingerprint(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h1", OwnerID: "U1",
		})
		require.NoError(t, err)
		_, err = f.repo.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle: "h2", OwnerID: "U1", OriginHandle: "h1",
		})
		require.NoError(t, err)

		require.NoError(t, f.repo.MarkError(ctx, "h1", "search backend: time budget exceeded"))

		for _, h := range []string{"h1", "h2"} {
			got, findErr := f.repo.FindByHandle(ctx, "U1", h)
			require.NoError(t, findErr)
			assert.Equal(t, model.SearchJobStatusError, got.Status)
			require.NotNil(t, got.ErrorMessage)
			assert.Contains(t, *got.ErrorMessage, "time budget")
			assert.Nil(t, got.DownloadURL)
		}

		none, err := f.repo.FindByFingerprint(ctx, fp("q1"))
		require.NoError(t, err)
		assert.Nil(t, none)

		_, err = f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h3", OwnerID: "U1",
		})
		require.NoError(t, err)
	})
}

func TestSearchJobRepo_RefreshURL(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "h1", OwnerID: "U1",
		})
		require.NoError(t, err)

		link := model.DownloadLink{URL: "https://new", ExpiresAt: testutil.TestTime().Add(3 * time.Hour)}
		err = f.repo.RefreshURL(ctx, core.RefreshURLParams{JobHandle: "h1", Link: link})
		require.ErrorIs(t, err, model.ErrSearchJobNotFound, "running rows have no URL to refresh")

		require.NoError(t, f.repo.MarkComplete(ctx, completeParams("h1", testutil.TestTime())))
		f.clock.AddTime(time.Minute)
		require.NoError(t, f.repo.RefreshURL(ctx, core.RefreshURLParams{JobHandle: "h1", Link: link}))

		got, err := f.repo.FindByHandle(ctx, "U1", "h1")
		require.NoError(t, err)
		assert.Equal(t, "https://new", *got.DownloadURL)
		assert.True(t, got.URLExpiry.Equal(link.ExpiresAt))
		assert.Equal(t, "exports/h1.json", *got.ObjectID)
		assert.True(t, got.UpdatedAt.Equal(testutil.TestTime().Add(time.Minute)))
	})
}

func TestSearchJobRepo_RetireCanonical(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "old", OwnerID: "U1",
		})
		require.NoError(t, err)
		require.NoError(t, f.repo.MarkComplete(ctx, completeParams("old", testutil.TestTime().Add(time.Hour))))

		require.NoError(t, f.repo.RetireCanonical(ctx, "old"))
		require.NoError(t, f.repo.RetireCanonical(ctx, "old"))

		none, err := f.repo.FindByFingerprint(ctx, fp("q1"))
		require.NoError(t, err)
		assert.Nil(t, none)

		_, err = f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "new", OwnerID: "U1",
		})
		require.NoError(t, err)

		// The retired row remains readable by its owner.
		old, err := f.repo.FindByHandle(ctx, "U1", "old")
		require.NoError(t, err)
		assert.Equal(t, model.SearchJobStatusComplete, old.Status)
		assert.False(t, old.Canonical)
	})
}

func TestSearchJobRepo_FindByHandle_AdoptsOriginOutcome(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp("q1"), JobHandle: "origin", OwnerID: "U1",
		})
		require.NoError(t, err)
		_, err = f.repo.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle: "alias", OwnerID: "U1", OriginHandle: "origin",
		})
		require.NoError(t, err)

		// Finish only the origin, as if the alias row was written after the fan-out update.
		expires := testutil.TestTime().Add(time.Hour)
		_, err = f.db.ExecContext(ctx, f.dialect.Rebind(`UPDATE search_jobs
			SET status = 'complete', object_id = $1, download_url = $2, url_expiry = $3, completed_at = $4
			WHERE job_handle = $5`),
			"exports/origin.json", "https://u", expires, testutil.TestTime(), "origin",
		)
		require.NoError(t, err)

		got, err := f.repo.FindByHandle(ctx, "U1", "alias")
		require.NoError(t, err)
		assert.Equal(t, model.SearchJobStatusComplete, got.Status)
		assert.Equal(t, "https://u", *got.DownloadURL)

		var status string
		err = f.db.QueryRowContext(ctx,
			f.dialect.Rebind(`SELECT status FROM search_jobs WHERE job_handle = $1`), "alias",
		).Scan(&status)
		require.NoError(t, err)
		assert.Equal(t, "complete", status, "adopted outcome is persisted")
	})
}

func TestSearchJobRepo_ConcurrentInsertRunning(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		const n = 8

		funcs := make([]func() error, n)
		for i := range funcs {
			funcs[i] = func() error {
				_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
					Fingerprint: fp("race"), JobHandle: fmt.Sprintf("h%d", i), OwnerID: "U1",
				})
				return err
			}
		}

		var won, lost int
		for _, err := range testutil.RunConcurrent(funcs...) {
			switch {
			case err == nil:
				won++
			default:
				require.ErrorIs(t, err, model.ErrDuplicateFingerprint)
				lost++
			}
		}
		assert.Equal(t, 1, won)
		assert.Equal(t, n-1, lost)
	})
}

func TestSearchJobRepo_CountByStatus(t *testing.T) {
	forEachLedger(t, func(t *testing.T, f ledgerFixture) {
		ctx := context.Background()
		for i, seed := range []string{"a", "b", "c"} {
			_, err := f.repo.InsertRunning(ctx, core.InsertRunningParams{
				Fingerprint: fp(seed), JobHandle: fmt.Sprintf("h%d", i), OwnerID: "U1",
			})
			require.NoError(t, err)
		}
		require.NoError(t, f.repo.MarkError(ctx, "h0", "boom"))
		require.NoError(t, f.repo.MarkComplete(ctx, completeParams("h1", testutil.TestTime().Add(time.Hour))))

		counts, err := f.repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[model.SearchJobStatus]int64{
			model.SearchJobStatusRunning:  1,
			model.SearchJobStatusComplete: 1,
			model.SearchJobStatusError:    1,
		}, counts)
	})
}
