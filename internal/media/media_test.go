package media

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves path-style PUT and HEAD object requests from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestBucket(t *testing.T) (*S3Bucket, *fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := NewS3Bucket(context.Background(), S3Options{
		Bucket:    "musical-images",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	return b, fake, srv
}

func TestUploadAndSign(t *testing.T) {
	ctx := context.Background()
	b, fake, srv := newTestBucket(t)

	data := []byte("\x89PNG fake")
	require.NoError(t, b.Upload(ctx, "u1/abc-poster.png", "image/png", bytes.NewReader(data), int64(len(data))))
	assert.Equal(t, data, fake.objects["/musical-images/u1/abc-poster.png"])
	assert.Equal(t, "image/png", fake.types["/musical-images/u1/abc-poster.png"])

	signed, err := b.SignedURL(ctx, "u1/abc-poster.png", 365*24*time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, srv.URL+"/musical-images/u1/abc-poster.png?"))
	assert.Equal(t, "604800", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestSignedURLMissingObject(t *testing.T) {
	b, _, _ := newTestBucket(t)
	_, err := b.SignedURL(context.Background(), "u1/none.png", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3BucketRequiresName(t *testing.T) {
	_, err := NewS3Bucket(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	k := ObjectKey("u1", "../../etc/poster.png")
	assert.True(t, strings.HasPrefix(k, "u1/"))
	assert.True(t, strings.HasSuffix(k, "-poster.png"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(k, "u1/"), "-poster.png"), 36)

	assert.True(t, strings.HasSuffix(ObjectKey("u1", `C:\photos\seat.jpg`), "-seat.jpg"))
	assert.True(t, strings.HasSuffix(ObjectKey("u1", ""), "-upload"))
	assert.NotEqual(t, ObjectKey("u1", "a.png"), ObjectKey("u1", "a.png"))
}
