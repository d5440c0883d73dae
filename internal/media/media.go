// Package media stores uploaded images in an S3-compatible bucket and hands out
// time-limited URLs for them.
package media

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxSignedURLTTL is the longest lifetime SigV4 allows for a presigned URL.
const MaxSignedURLTTL = 7 * 24 * time.Hour

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Bucket is an object store for user images.
type Bucket interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectKey returns a fresh object key for a file uploaded by userID. Only the
// base name of filename is kept.
func ObjectKey(userID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		base = "upload"
	}
	return userID + "/" + uuid.NewString() + "-" + base
}
