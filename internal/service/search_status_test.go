package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
	"github.com/target/mmk-export-api/internal/mocks"
	"github.com/target/mmk-export-api/internal/observability/metrics"
	"github.com/target/mmk-export-api/internal/observability/statsd"
	"github.com/target/mmk-export-api/internal/testutil"
)

type statusFixture struct {
	ledger    *mocks.MockSearchJobLedger
	publisher *mocks.MockObjectPublisher
	cache     *mocks.MockCacheRepository
	metrics   *statsd.Recorder
	svc       *SearchStatusService
	now       time.Time
}

func newStatusFixture(t *testing.T, withCache bool) *statusFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &statusFixture{
		ledger:    mocks.NewMockSearchJobLedger(ctrl),
		publisher: mocks.NewMockObjectPublisher(ctrl),
		metrics:   &statsd.Recorder{},
		now:       testutil.TestTime(),
	}
	opts := SearchStatusServiceOptions{
		Ledger:        f.ledger,
		Publisher:     f.publisher,
		PresignTTL:    presignTTL,
		CacheTTL:      5 * time.Minute,
		URLExpirySkew: 30 * time.Second,
		Metrics:       f.metrics,
		Now:           func() time.Time { return f.now },
	}
	if withCache {
		f.cache = mocks.NewMockCacheRepository(ctrl)
		opts.Cache = f.cache
	}
	f.svc = MustNewSearchStatusService(opts)
	return f
}

func TestSearchStatusService_Get_NotFound(t *testing.T) {
	f := newStatusFixture(t, false)

	// An unknown handle and a handle owned by someone else look the same to the ledger.
	f.ledger.EXPECT().FindByHandle(gomock.Any(), "B", "H1").Return(nil, nil)

	job, err := f.svc.Get(context.Background(), "B", "H1")
	require.ErrorIs(t, err, model.ErrSearchJobNotFound)
	assert.Nil(t, job)

	_, err = f.svc.Get(context.Background(), "B", "../etc")
	require.ErrorIs(t, err, model.ErrSearchJobNotFound)

	_, err = f.svc.Get(context.Background(), "", "H1")
	require.ErrorIs(t, err, model.ErrInvalidQuery)
}

func TestSearchStatusService_Get_NonCompleteReturnedAsIs(t *testing.T) {
	tests := []struct {
		name string
		job  *model.SearchJob
	}{
		{"running", &model.SearchJob{JobHandle: "H1", Status: model.SearchJobStatusRunning}},
		{"error", &model.SearchJob{
			JobHandle:    "H1",
			Status:       model.SearchJobStatusError,
			ErrorMessage: testutil.StringPtr("export: search backend: boom"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStatusFixture(t, true)
			f.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil)
			f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(tt.job, nil)
			f.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			f.publisher.EXPECT().Presign(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			job, err := f.svc.Get(context.Background(), testOwner, "H1")
			require.NoError(t, err)
			assert.Equal(t, tt.job, job)
			assert.Nil(t, job.DownloadURL)
		})
	}
}

func TestSearchStatusService_Get_CompleteWithValidLink(t *testing.T) {
	f := newStatusFixture(t, true)
	stored := completeJob("H1", "fp", f.now.Add(2*time.Minute), f.now.Add(-time.Hour))

	f.cache.EXPECT().Get(gomock.Any(), statusCacheKey(testOwner, "H1")).Return(nil, nil)
	f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil)
	f.publisher.EXPECT().Presign(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	// Cached only until the link enters the skew window: 2m - 30s.
	f.cache.EXPECT().Set(gomock.Any(), statusCacheKey(testOwner, "H1"), gomock.Any(), 90*time.Second).Return(nil)

	job, err := f.svc.Get(context.Background(), testOwner, "H1")
	require.NoError(t, err)
	assert.Equal(t, stored, job)
}

func TestSearchStatusService_Get_RefreshesExpiredLinkWithoutExport(t *testing.T) {
	f := newStatusFixture(t, false)
	stored := completeJob("H1", "fp", f.now.Add(-time.Minute), f.now.Add(-2*time.Hour))
	fresh := model.DownloadLink{URL: "https://new.example/H1", ExpiresAt: f.now.Add(presignTTL)}

	f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil)
	f.publisher.EXPECT().Presign(gomock.Any(), *stored.ObjectID, presignTTL).Return(fresh, nil).Times(1)
	f.publisher.EXPECT().Upload(gomock.Any(), gomock.Any()).Times(0)
	f.ledger.EXPECT().RefreshURL(gomock.Any(), core.RefreshURLParams{JobHandle: "H1", Link: fresh}).Return(nil)

	job, err := f.svc.Get(context.Background(), testOwner, "H1")
	require.NoError(t, err)
	assert.Equal(t, fresh.URL, *job.DownloadURL)
	assert.NotEqual(t, *stored.DownloadURL, *job.DownloadURL)
	assert.Equal(t, fresh.ExpiresAt, *job.URLExpiry)
	assert.Equal(t, *stored.ObjectID, *job.ObjectID)
	assert.Equal(t, "https://old.example/H1", *stored.DownloadURL, "ledger value is not mutated")

	require.Len(t, f.metrics.Find(metrics.MetricPresign), 1)
	assert.Equal(t, "refresh", f.metrics.Find(metrics.MetricPresign)[0].Tags["reason"])
}

func TestSearchStatusService_Get_RefreshFailures(t *testing.T) {
	t.Run("presign", func(t *testing.T) {
		f := newStatusFixture(t, false)
		stored := completeJob("H1", "fp", f.now.Add(-time.Minute), f.now.Add(-2*time.Hour))
		f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil)
		f.publisher.EXPECT().Presign(gomock.Any(), gomock.Any(), gomock.Any()).Return(model.DownloadLink{}, errors.New("no creds"))

		_, err := f.svc.Get(context.Background(), testOwner, "H1")
		require.ErrorContains(t, err, "no creds")
	})

	t.Run("persist", func(t *testing.T) {
		f := newStatusFixture(t, false)
		stored := completeJob("H1", "fp", f.now.Add(-time.Minute), f.now.Add(-2*time.Hour))
		f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil)
		f.publisher.EXPECT().Presign(gomock.Any(), gomock.Any(), gomock.Any()).Return(model.DownloadLink{URL: "u"}, nil)
		f.ledger.EXPECT().RefreshURL(gomock.Any(), gomock.Any()).Return(errors.New("db gone"))

		_, err := f.svc.Get(context.Background(), testOwner, "H1")
		require.ErrorContains(t, err, "db gone")
	})
}

func TestSearchStatusService_Get_CacheHit(t *testing.T) {
	f := newStatusFixture(t, true)
	cached := completeJob("H1", "fp", f.now.Add(time.Hour), f.now.Add(-time.Hour))
	raw, err := json.Marshal(cached)
	require.NoError(t, err)

	f.cache.EXPECT().Get(gomock.Any(), statusCacheKey(testOwner, "H1")).Return(raw, nil)
	f.ledger.EXPECT().FindByHandle(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	job, err := f.svc.Get(context.Background(), testOwner, "H1")
	require.NoError(t, err)
	assert.Equal(t, *cached.DownloadURL, *job.DownloadURL)
	assert.Equal(t, "cache", f.metrics.Find(metrics.MetricStatus)[0].Tags["source"])
}

func TestSearchStatusService_Get_CacheProblemsFallBackToLedger(t *testing.T) {
	f := newStatusFixture(t, true)
	stored := completeJob("H1", "fp", f.now.Add(time.Hour), f.now.Add(-time.Hour))
	staleEntry, err := json.Marshal(completeJob("H1", "fp", f.now.Add(-time.Hour), f.now.Add(-2*time.Hour)))
	require.NoError(t, err)

	gomock.InOrder(
		f.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down")),
		f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil),
		f.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), 5*time.Minute).Return(errors.New("redis down")),

		f.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(staleEntry, nil),
		f.cache.EXPECT().Delete(gomock.Any(), statusCacheKey(testOwner, "H1")).Return(true, nil),
		f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil),
		f.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),

		f.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return([]byte("{not json"), nil),
		f.cache.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(false, errors.New("redis down")),
		f.ledger.EXPECT().FindByHandle(gomock.Any(), testOwner, "H1").Return(stored, nil),
		f.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
	)

	for range 3 {
		job, getErr := f.svc.Get(context.Background(), testOwner, "H1")
		require.NoError(t, getErr)
		assert.Equal(t, stored, job)
	}
}

func TestStatusCacheKey_ScopedByOwner(t *testing.T) {
	a := statusCacheKey("A", "H1")
	b := statusCacheKey("B", "H1")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, statusCacheKey("A", "H1"))
	assert.Contains(t, a, "search_job:status:H1:")
}

func TestNewSearchStatusService_Validation(t *testing.T) {
	f := newStatusFixture(t, false)

	_, err := NewSearchStatusService(SearchStatusServiceOptions{})
	require.Error(t, err)
	_, err = NewSearchStatusService(SearchStatusServiceOptions{Ledger: f.ledger, Publisher: f.publisher})
	require.Error(t, err)
	assert.Panics(t, func() { MustNewSearchStatusService(SearchStatusServiceOptions{}) })
}
