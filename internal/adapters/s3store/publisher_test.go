package s3store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
)

type fakeUploader struct {
	mu     sync.Mutex
	bodies map[string]string
	err    error
}

func (f *fakeUploader) Upload(
	_ context.Context,
	input *s3.PutObjectInput,
	_ ...func(*manager.Uploader),
) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[aws.ToString(input.Bucket)+"/"+aws.ToString(input.Key)] = string(b)
	return &manager.UploadOutput{Key: input.Key}, nil
}

type fakePresigner struct {
	calls int
	ttl   time.Duration
	err   error
}

func (f *fakePresigner) PresignGetObject(
	_ context.Context,
	params *s3.GetObjectInput,
	optFns ...func(*s3.PresignOptions),
) (*v4.PresignedHTTPRequest, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.ttl = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://" + aws.ToString(params.Bucket) + ".example/" + aws.ToString(params.Key) + "?sig=abc",
		Method: http.MethodGet,
	}, nil
}

func writeScratch(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scratch.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestPublisher_Upload(t *testing.T) {
	up := &fakeUploader{}
	pub, err := NewPublisher(PublisherOptions{
		Bucket:    "exports",
		KeyPrefix: "search/",
		Uploader:  up,
		Presigner: &fakePresigner{},
	})
	require.NoError(t, err)

	path := writeScratch(t, `[{"v":1}]`)
	for range 2 {
		res, upErr := pub.Upload(context.Background(), core.UploadRequest{JobHandle: "job-1", Path: path})
		require.NoError(t, upErr)
		assert.Equal(t, "search/job-1.json", res.ObjectID)
		assert.Equal(t, int64(9), res.Bytes)
	}

	// Retries for one handle land on the same object.
	assert.Equal(t, map[string]string{"exports/search/job-1.json": `[{"v":1}]`}, up.bodies)
}

func TestPublisher_Upload_Errors(t *testing.T) {
	pub, err := NewPublisher(PublisherOptions{
		Bucket:    "exports",
		Uploader:  &fakeUploader{err: errors.New("access denied")},
		Presigner: &fakePresigner{},
	})
	require.NoError(t, err)

	_, err = pub.Upload(context.Background(), core.UploadRequest{JobHandle: "job-1", Path: writeScratch(t, "[]")})
	var ue *model.UploadError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, err.Error(), "access denied")

	_, err = pub.Upload(context.Background(), core.UploadRequest{JobHandle: "job-1", Path: "/nonexistent/file.json"})
	require.True(t, errors.As(err, &ue))

	_, err = pub.Upload(context.Background(), core.UploadRequest{JobHandle: "a/b", Path: "x"})
	require.ErrorIs(t, err, model.ErrInvalidHandle)
}

func TestPublisher_Presign(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ps := &fakePresigner{}
	pub, err := NewPublisher(PublisherOptions{
		Bucket:    "exports",
		Uploader:  &fakeUploader{},
		Presigner: ps,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	link, err := pub.Presign(context.Background(), "search/job-1.json", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://exports.example/search/job-1.json?sig=abc", link.URL)
	assert.Equal(t, now.Add(time.Hour), link.ExpiresAt)
	assert.Equal(t, time.Hour, ps.ttl)

	link, err = pub.Presign(context.Background(), "search/job-1.json", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(MaxPresignTTL), link.ExpiresAt)

	_, err = pub.Presign(context.Background(), "search/job-1.json", 0)
	require.Error(t, err)
	_, err = pub.Presign(context.Background(), "", time.Hour)
	require.Error(t, err)

	ps.err = errors.New("no credentials")
	_, err = pub.Presign(context.Background(), "k", time.Hour)
	require.ErrorContains(t, err, "no credentials")
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(PublisherOptions{Uploader: &fakeUploader{}, Presigner: &fakePresigner{}})
	require.Error(t, err)
	_, err = NewPublisher(PublisherOptions{Bucket: "b"})
	require.Error(t, err)
	_, err = NewPublisherFromClient(nil, PublisherOptions{Bucket: "b"})
	require.Error(t, err)
}

// TestPublisher_RealClient drives the SDK transfer manager and presigner against a local endpoint.
func TestPublisher_RealClient(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts[r.URL.Path] = string(b)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
	})
	pub, err := NewPublisherFromClient(client, PublisherOptions{Bucket: "exports", KeyPrefix: "search"})
	require.NoError(t, err)

	res, err := pub.Upload(context.Background(), core.UploadRequest{
		JobHandle: "job-9",
		Path:      writeScratch(t, `[{"v":9}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "search/job-9.json", res.ObjectID)

	mu.Lock()
	assert.Contains(t, puts, "/exports/search/job-9.json")
	mu.Unlock()

	link, err := pub.Presign(context.Background(), res.ObjectID, 15*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "/exports/search/job-9.json", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
