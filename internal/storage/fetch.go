package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/print-slicer/backend/internal/models"
)

// Fetcher copies a model file's source into a local working file.
type Fetcher struct {
	blobs   BlobStore
	client  *http.Client
	workDir string
	maxSize int64
}

// NewFetcher creates a Fetcher writing into workDir. blobs may be nil when
// only remote URLs are used.
func NewFetcher(blobs BlobStore, workDir string, timeout time.Duration, maxSize int64) *Fetcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Fetcher{
		blobs:   blobs,
		client:  &http.Client{Timeout: timeout},
		workDir: workDir,
		maxSize: maxSize,
	}
}

// Fetch downloads f.Source to a uniquely named local file carrying the
// file's extension. The caller owns the returned file.
func (fe *Fetcher) Fetch(ctx context.Context, f models.ModelFile) (string, error) {
	body, err := fe.open(ctx, f.Source)
	if err != nil {
		return "", models.NewFailure(models.FailureDownload, "could not download file", err)
	}
	defer body.Close()

	path := filepath.Join(fe.workDir, uuid.New().String()+f.Ext())
	out, err := os.Create(path)
	if err != nil {
		return "", models.NewFailure(models.FailureDownload, "could not store download", err)
	}

	var r io.Reader = body
	if fe.maxSize > 0 {
		r = io.LimitReader(body, fe.maxSize+1)
	}
	n, err := io.Copy(out, r)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("downloaded file is empty")
	}
	if err == nil && fe.maxSize > 0 && n > fe.maxSize {
		err = fmt.Errorf("file exceeds %d bytes", fe.maxSize)
	}
	if err != nil {
		os.Remove(path)
		return "", models.NewFailure(models.FailureDownload, "could not download file", err)
	}
	return path, nil
}

func (fe *Fetcher) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if isURL(source) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := fe.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: status %d", redact(source), resp.StatusCode)
		}
		return resp.Body, nil
	}
	if fe.blobs == nil {
		return nil, fmt.Errorf("no blob store configured for key %q", source)
	}
	return fe.blobs.Open(ctx, source)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// redact drops query strings, which often carry signatures.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
