// ABOUTME: Range-addressed stream access: cache first, network for the gaps
// ABOUTME: Handles descriptor expiry, re-resolution, and background read-ahead
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tonearm/tonearm/internal/cachestore"
	"github.com/tonearm/tonearm/pkg/media"
)

const (
	// fetchChunk is the write-back granularity. Each chunk lands in the
	// cache as soon as it arrives, so a cancelled fetch keeps its prefix.
	fetchChunk = 64 * 1024

	defaultReadAhead = 512 * 1024
	defaultTimeout   = 15 * time.Second
)

// ErrPartial marks a read that returned fewer bytes than asked because
// the network gave out mid-range. The prefix is valid and cached; the
// caller decides whether to retry or stall.
var ErrPartial = errors.New("fetch: partial range")

// ResolveFunc re-resolves a track when its descriptor expires.
type ResolveFunc func(ctx context.Context, trackID string) (media.Track, media.StreamDescriptor, error)

// Fetcher opens byte streams that are served from the cache where
// possible and filled from the network where not.
type Fetcher struct {
	store     *cachestore.Store
	http      *resty.Client
	resolve   ResolveFunc
	readAhead int64
}

// New builds a fetcher. readAhead is how far past the last read the
// background worker keeps the cache filled; 0 picks a default.
func New(store *cachestore.Store, resolve ResolveFunc, timeout time.Duration, readAhead int64) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if readAhead <= 0 {
		readAhead = defaultReadAhead
	}
	return &Fetcher{
		store:     store,
		http:      resty.New().SetTimeout(timeout),
		resolve:   resolve,
		readAhead: readAhead,
	}
}

// Stream is one open track. It serves sequential reads for the decoder
// (io.ReadSeeker) and random access for probing (io.ReaderAt); bytes
// come from the cache when covered and from HTTP range requests when not.
type Stream struct {
	f       *Fetcher
	trackID string
	key     string

	mu   sync.Mutex
	desc media.StreamDescriptor
	pos  int64

	ctx     context.Context
	cancel  context.CancelFunc
	aheadCh chan int64
	done    chan struct{}
}

// Open registers the stream in the cache, pins it against eviction,
// and starts the read-ahead worker. A descriptor without a byte length
// gets one from the media host before anything else: range math and EOF
// detection need the total.
func (f *Fetcher) Open(ctx context.Context, trackID string, desc media.StreamDescriptor) (*Stream, error) {
	if desc.Length <= 0 {
		length, err := f.probeLength(ctx, desc.URL)
		if err != nil {
			return nil, err
		}
		desc.Length = length
	}

	key := desc.Fingerprint(trackID)
	if _, err := f.store.Ensure(key, trackID, desc.Codec, desc.Length); err != nil {
		return nil, media.NewError(media.KindCorrupt, err)
	}
	f.store.Pin(key)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stream{
		f:       f,
		trackID: trackID,
		key:     key,
		desc:    desc,
		ctx:     sctx,
		cancel:  cancel,
		aheadCh: make(chan int64, 1),
		done:    make(chan struct{}),
	}
	go s.readAheadLoop()
	return s, nil
}

// probeLength asks the media host for the stream's total size. A one-byte
// range request is enough: the 206 Content-Range header carries the full
// length, and a server that ignores Range states it in Content-Length.
func (f *Fetcher) probeLength(ctx context.Context, url string) (int64, error) {
	resp, err := f.http.R().
		SetContext(ctx).
		SetHeader("Range", "bytes=0-0").
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return 0, media.Errorf(media.KindNetwork, "length probe failed: %w", err)
	}
	defer resp.RawBody().Close()

	switch resp.StatusCode() {
	case http.StatusPartialContent:
		var first, last, total int64
		cr := resp.Header().Get("Content-Range")
		if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &first, &last, &total); err != nil || total <= 0 {
			return 0, media.Errorf(media.KindUnavailable, "media host reported no usable length (Content-Range %q)", cr)
		}
		return total, nil
	case http.StatusOK:
		if n, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); err == nil && n > 0 {
			return n, nil
		}
		return 0, media.Errorf(media.KindUnavailable, "media host reported no usable length")
	default:
		return 0, classifyRangeStatus(resp, false)
	}
}

// Length returns the stream's total byte length.
func (s *Stream) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc.Length
}

// Codec returns the stream's codec.
func (s *Stream) Codec() media.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc.Codec
}

// Close stops the read-ahead worker and unpins the cache entry.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	s.f.store.Unpin(s.key)
	return nil
}

// Read serves the decoder sequentially from the current offset.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	pos := s.pos
	s.mu.Unlock()

	n, err := s.ReadAt(p, pos)

	s.mu.Lock()
	s.pos = pos + int64(n)
	s.mu.Unlock()
	return n, err
}

// Seek repositions the sequential read cursor.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.desc.Length + offset
	default:
		return 0, fmt.Errorf("fetch: bad whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("fetch: seek before start")
	}
	s.pos = pos
	return pos, nil
}

// ReadAt serves [off, off+len(p)) cache-first, fetching missing ranges
// from the network and writing them back before returning. On a network
// failure mid-range it returns the cached prefix with ErrPartial.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	length := s.Length()
	if off >= length {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > length {
		end = length
		p = p[:end-off]
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Fill gaps before reading. One re-resolve is allowed per attempt
	// so a stale descriptor heals without looping on a broken upstream.
	// Corrupt cache entries get dropped and refetched once.
	reResolved := false
	refetched := false
	for {
		for _, gap := range s.f.store.Missing(s.key, off, end) {
			if err := s.fetchGap(s.ctx, gap, &reResolved); err != nil {
				// Serve whatever contiguous prefix the cache now holds.
				n := s.cachedPrefix(p, off)
				return n, fmt.Errorf("%w: %w", ErrPartial, err)
			}
		}

		n, err := s.f.store.ReadAt(s.key, p, off)
		if err == nil {
			s.requestReadAhead(end)
			return n, nil
		}
		if errors.Is(err, cachestore.ErrCorrupt) && !refetched {
			log.Warn().Str("track", s.trackID).Msg("Cache entry corrupt, refetching")
			if derr := s.dropEntry(); derr != nil {
				return 0, media.NewError(media.KindCorrupt, derr)
			}
			refetched = true
			continue
		}
		return n, media.NewError(media.KindCorrupt, err)
	}
}

// dropEntry throws away the cache entry and re-registers it empty.
// Never serve bytes the blob cannot vouch for.
func (s *Stream) dropEntry() error {
	if err := s.f.store.Remove(s.key); err != nil {
		return err
	}
	s.mu.Lock()
	desc := s.desc
	s.mu.Unlock()
	if _, err := s.f.store.Ensure(s.key, s.trackID, desc.Codec, desc.Length); err != nil {
		return err
	}
	s.f.store.Pin(s.key)
	return nil
}

// cachedPrefix reads as much of p from off as the cache can serve
// contiguously.
func (s *Stream) cachedPrefix(p []byte, off int64) int {
	gaps := s.f.store.Missing(s.key, off, off+int64(len(p)))
	if len(gaps) == 0 {
		n, err := s.f.store.ReadAt(s.key, p, off)
		if err != nil {
			return 0
		}
		return n
	}
	avail := gaps[0].Start - off
	if avail <= 0 {
		return 0
	}
	n, err := s.f.store.ReadAt(s.key, p[:avail], off)
	if err != nil {
		return 0
	}
	return n
}

// fetchGap downloads [gap.Start, gap.End) and writes it to the cache
// chunk by chunk. Expiry, whether advisory or signalled by the server,
// causes one re-resolution, after which the range request is retried.
func (s *Stream) fetchGap(ctx context.Context, gap cachestore.ByteRange, reResolved *bool) error {
	for {
		s.mu.Lock()
		desc := s.desc
		s.mu.Unlock()

		if desc.Expired(time.Now()) {
			if *reResolved {
				return media.Errorf(media.KindExpired, "descriptor for %s expired twice in one attempt", s.trackID)
			}
			if err := s.reResolve(ctx); err != nil {
				return err
			}
			*reResolved = true
			continue
		}

		err := s.fetchRange(ctx, desc.URL, gap)
		if err == nil {
			return nil
		}
		// 403/410 from the media host is an implicit expiry signal.
		if kind, ok := media.KindOf(err); ok && kind == media.KindExpired && !*reResolved {
			if rerr := s.reResolve(ctx); rerr != nil {
				return rerr
			}
			*reResolved = true
			continue
		}
		return err
	}
}

// reResolve swaps in a fresh descriptor for the same stream. The
// fingerprint must not move: cached bytes belong to one exact encoding.
func (s *Stream) reResolve(ctx context.Context) error {
	log.Debug().Str("track", s.trackID).Msg("Descriptor stale, re-resolving")

	_, desc, err := s.f.resolve(ctx, s.trackID)
	if err != nil {
		return err
	}
	if desc.Length <= 0 {
		// The catalog never knew the length; keep the one the media host
		// taught us so the fingerprint stays put.
		s.mu.Lock()
		desc.Length = s.desc.Length
		s.mu.Unlock()
	}
	if desc.Fingerprint(s.trackID) != s.key {
		return media.Errorf(media.KindUnavailable,
			"track %s re-resolved to a different encoding", s.trackID)
	}

	s.mu.Lock()
	s.desc = desc
	s.mu.Unlock()
	return nil
}

// fetchRange issues one HTTP range request and streams the body into
// the cache in fetchChunk pieces.
func (s *Stream) fetchRange(ctx context.Context, url string, gap cachestore.ByteRange) error {
	resp, err := s.f.http.R().
		SetContext(ctx).
		SetHeader("Range", fmt.Sprintf("bytes=%d-%d", gap.Start, gap.End-1)).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return media.Errorf(media.KindNetwork, "range request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if err := classifyRangeStatus(resp, gap.Start == 0); err != nil {
		return err
	}

	buf := make([]byte, fetchChunk)
	written := gap.Start
	for written < gap.End {
		want := gap.End - written
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, rerr := io.ReadFull(body, buf[:want])
		if n > 0 {
			if werr := s.f.store.WriteAt(s.key, buf[:n], written); werr != nil {
				return media.NewError(media.KindCorrupt, werr)
			}
			written += int64(n)
		}
		if rerr != nil {
			if written >= gap.End {
				break
			}
			return media.Errorf(media.KindNetwork,
				"range body ended at %d of %d: %w", written, gap.End, rerr)
		}
	}
	return nil
}

// classifyRangeStatus maps a range response status to the error taxonomy.
// wholeBodyOK accepts a plain 200: a server that ignores the Range header
// still lines up when the requested range starts at byte zero.
func classifyRangeStatus(resp *resty.Response, wholeBodyOK bool) error {
	code := resp.StatusCode()
	switch {
	case code == http.StatusPartialContent:
		return nil
	case code == http.StatusOK && wholeBodyOK:
		return nil
	case code == http.StatusForbidden || code == http.StatusGone:
		return media.Errorf(media.KindExpired, "media host returned status %d", code)
	case code == http.StatusTooManyRequests:
		perr := &media.PlaybackError{
			Kind: media.KindRateLimited,
			Err:  fmt.Errorf("media host returned status %d", code),
		}
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
			perr.RetryAfter = time.Duration(secs) * time.Second
		}
		return perr
	case code >= 500:
		return media.Errorf(media.KindNetwork, "media host returned status %d", code)
	default:
		return media.Errorf(media.KindUnavailable, "media host returned status %d", code)
	}
}

// requestReadAhead nudges the background worker. The channel holds one
// pending offset; a newer one simply replaces it.
func (s *Stream) requestReadAhead(from int64) {
	for {
		select {
		case s.aheadCh <- from:
			return
		default:
			select {
			case <-s.aheadCh:
			default:
			}
		}
	}
}

// readAheadLoop keeps the cache filled past the last read so playback
// of already-cached bytes never waits on the network. Failures here are
// only logged: the foreground read path will retry and classify them.
func (s *Stream) readAheadLoop() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case from := <-s.aheadCh:
			end := from + s.f.readAhead
			if length := s.Length(); end > length {
				end = length
			}
			reResolved := false
			for _, gap := range s.f.store.Missing(s.key, from, end) {
				if s.ctx.Err() != nil {
					return
				}
				if err := s.fetchGap(s.ctx, gap, &reResolved); err != nil {
					log.Debug().Err(err).Str("track", s.trackID).Msg("Read-ahead fetch failed")
					break
				}
			}
		}
	}
}
