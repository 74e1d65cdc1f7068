// Package hoststream implements the byte-stream and file-locator
// capabilities the core consumes from its host: a local-file
// sparse.Stream, a directory-scoped diskchain.FileLocator, and an
// HTTP range-request source for images fetched over the network.
package hoststream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/internal/logging"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

// HTTPStreamConfig tunes the retryablehttp client backing an HTTPStream.
type HTTPStreamConfig struct {
	Timeout      time.Duration
	MinRetryWait time.Duration
	MaxRetryWait time.Duration
	MaxRetries   int
	DisableCache bool
}

// DefaultHTTPStreamConfig returns the retry/timeout policy OpenHTTPStream
// uses when called with a zero HTTPStreamConfig.
func DefaultHTTPStreamConfig() HTTPStreamConfig {
	return HTTPStreamConfig{
		Timeout:      30 * time.Second,
		MinRetryWait: 100 * time.Millisecond,
		MaxRetryWait: 5 * time.Second,
		MaxRetries:   5,
	}
}

////////////////////////////////////////////////////////////////////////////////

// HTTPStream is a read-only sparse.Stream backed by HTTP range requests
// against a single immutable resource: a HEAD request pins the resource's
// size and ETag up front, and every subsequent Read validates the ETag
// on the response to detect the resource changing under us mid-session.
type HTTPStream struct {
	client *retryablehttp.Client
	url    string
	etag   string
	size   uint64
	pos    uint64
	cache  *chunkCache
}

// OpenHTTPStream issues the HEAD request and returns a ready-to-read
// stream. cfg's zero value is replaced with sane defaults.
func OpenHTTPStream(ctx context.Context, rawURL string, cfg HTTPStreamConfig) (*HTTPStream, error) {
	if cfg == (HTTPStreamConfig{}) {
		cfg = DefaultHTTPStreamConfig()
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, direrr.NewNonRetriableErrorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, direrr.NewNonRetriableErrorf("invalid protocol scheme %q", parsed.Scheme)
	}

	client := retryablehttp.NewClient()
	client.RetryWaitMin = cfg.MinRetryWait
	client.RetryWaitMax = cfg.MaxRetryWait
	client.RetryMax = cfg.MaxRetries
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	s := &HTTPStream{client: client, url: rawURL}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, direrr.NewRetriableError(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, direrr.NewRetriableError(err)
	}
	_ = resp.Body.Close()

	if err := checkHTTPStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	etag := resp.Header.Get("Etag")
	if etag == "" {
		return nil, direrr.NewNonRetriableErrorf("missing Etag header in response from %s", rawURL)
	}
	if resp.ContentLength <= 0 {
		return nil, direrr.NewNonRetriableErrorf("url content length is not positive")
	}

	s.etag = etag
	s.size = uint64(resp.ContentLength)

	if !cfg.DisableCache {
		s.cache = newChunkCache(s.fetchRange)
	}

	logging.Debug(ctx, "opened http stream")
	return s, nil
}

////////////////////////////////////////////////////////////////////////////////

func (s *HTTPStream) Len() uint64          { return s.size }
func (s *HTTPStream) Position() uint64     { return s.pos }
func (s *HTTPStream) SetPosition(p uint64) { s.pos = p }
func (s *HTTPStream) CanRead() bool        { return true }
func (s *HTTPStream) CanWrite() bool       { return false }
func (s *HTTPStream) CanSeek() bool        { return true }

func (s *HTTPStream) Seek(offset int64, whence int) (uint64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(s.pos)
	case io.SeekEnd:
		base = int64(s.size)
	default:
		return 0, direrr.NewNonRetriableErrorf("invalid seek whence %d", whence)
	}
	target := base + offset
	if target < 0 {
		return 0, direrr.NewNonRetriableErrorf("seek before start of stream")
	}
	s.pos = uint64(target)
	return s.pos, nil
}

func (s *HTTPStream) StoredRanges() []sparse.Extent {
	return []sparse.Extent{{Offset: 0, Length: s.size}}
}

func (s *HTTPStream) ExtentsInRange(start, count uint64) []sparse.Extent {
	end := start + count
	if end > s.size {
		end = s.size
	}
	if start >= end {
		return nil
	}
	return []sparse.Extent{{Offset: start, Length: end - start}}
}

func (s *HTTPStream) WriteAt(context.Context, uint64, []byte) (int, error) {
	return 0, direrr.ErrNotWritable
}

func (s *HTTPStream) SetLength(context.Context, uint64) error {
	return direrr.ErrNotResizable
}

func (s *HTTPStream) Close() error { return nil }

////////////////////////////////////////////////////////////////////////////////

func (s *HTTPStream) ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	if pos >= s.size {
		s.pos = pos
		return 0, nil
	}

	n := len(buf)
	if uint64(n) > s.size-pos {
		n = int(s.size - pos)
	}
	dst := buf[:n]

	var err error
	if s.cache != nil {
		err = s.cache.Read(ctx, pos, dst)
	} else {
		err = s.fetchRange(ctx, pos, dst)
	}
	if err != nil {
		return 0, err
	}

	s.pos = pos + uint64(n)
	return n, nil
}

// fetchRange issues one ranged GET for [start, start+len(data)) and
// validates status, ETag, and content length before copying the body
// into data.
func (s *HTTPStream) fetchRange(ctx context.Context, start uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	end := start + uint64(len(data))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return direrr.NewRetriableError(err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	logging.Debug(ctx, "fetching http range")

	resp, err := s.client.Do(req)
	if err != nil {
		return direrr.NewRetriableErrorf("range [%d:%d): %w", start, end, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp.StatusCode); err != nil {
		return err
	}
	if got := resp.Header.Get("Etag"); got != s.etag {
		return direrr.NewNonRetriableErrorf("wrong etag: requested %q, actual %q", s.etag, got)
	}
	if want := int64(len(data)); resp.ContentLength >= 0 && resp.ContentLength != want {
		return direrr.NewNonRetriableErrorf("bad content length: requested %d, actual %d", want, resp.ContentLength)
	}

	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return direrr.NewRetriableError(err)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// checkHTTPStatus classifies an HTTP response status: 2xx is success,
// throttling/lock/timeout statuses are retriable, everything else in
// 4xx/5xx is not (5xx aside, which is treated as transient upstream
// trouble).
func checkHTTPStatus(status int) error {
	if status >= 200 && status <= 299 {
		return nil
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusLocked, http.StatusRequestTimeout:
		return direrr.NewRetriableErrorf("http status %d", status)
	case http.StatusRequestedRangeNotSatisfiable:
		return direrr.NewNonRetriableErrorf("http status %d", status)
	}
	if status >= 500 && status <= 599 {
		return direrr.NewRetriableErrorf("http status %d", status)
	}
	return direrr.NewNonRetriableErrorf("http status %d", status)
}
