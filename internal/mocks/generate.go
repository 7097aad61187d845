// Package mocks provides gomock implementations of the export service ports.
//
// The mocks are generated with go.uber.org/mock (mockgen) from the interfaces in internal/core.
// To regenerate them after an interface change, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	ledger := mocks.NewMockSearchJobLedger(ctrl)
//	ledger.EXPECT().FindByFingerprint(gomock.Any(), fp).Return(nil, nil)
package mocks

// MockSearchJobLedger: FindByFingerprint, FindByHandle, InsertRunning, InsertAlias, MarkComplete,
// MarkError, RefreshURL, RetireCanonical
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=search_job_ledger_mock.go github.com/target/mmk-export-api/internal/core SearchJobLedger

// MockScrollExporter: Export
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=scroll_exporter_mock.go github.com/target/mmk-export-api/internal/core ScrollExporter

// MockObjectPublisher: Upload, Presign
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_publisher_mock.go github.com/target/mmk-export-api/internal/core ObjectPublisher

// MockCacheRepository: Set, Get, Delete, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/mmk-export-api/internal/core CacheRepository
