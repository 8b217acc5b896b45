// ABOUTME: Tests for track resolution and format selection
// ABOUTME: Uses an httptest catalog to exercise status and expiry handling
package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tonearm/tonearm/pkg/media"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewResolver(NewClient(server.URL, time.Second), nil)
}

const playerBody = `{
	"playabilityStatus": {"status": "OK"},
	"streamingData": {
		"expiresInSeconds": 3600,
		"formats": [
			{"url": "http://cdn.example/low.mp3", "mimeType": "audio/mpeg", "bitrate": 128, "contentLength": "100000"},
			{"url": "http://cdn.example/hi.flac", "mimeType": "audio/flac", "bitrate": 900, "contentLength": "900000"},
			{"url": "http://cdn.example/opus.webm", "mimeType": "audio/webm; codecs=\"opus\"", "bitrate": 160, "contentLength": "200000"},
			{"url": "http://cdn.example/video.mp4", "mimeType": "video/mp4", "bitrate": 2000, "contentLength": "5000000"}
		]
	},
	"trackDetails": {
		"trackId": "trk_1",
		"title": "Night Drive",
		"artists": ["Mira Vance"],
		"durationSeconds": 241
	}
}`

func TestResolvePicksBestFormat(t *testing.T) {
	r := setupTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/v1/player/trk_1" {
			t.Errorf("Expected path /v1/player/trk_1, got %s", req.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(playerBody))
	})

	track, desc, err := r.Resolve(context.Background(), "trk_1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if track.Title != "Night Drive" {
		t.Errorf("track.Title = %q, want %q", track.Title, "Night Drive")
	}
	if track.Duration != 241*time.Second {
		t.Errorf("track.Duration = %v, want 241s", track.Duration)
	}

	// flac has the highest quality score among the playable formats.
	if desc.Codec != media.CodecFLAC {
		t.Errorf("desc.Codec = %q, want flac", desc.Codec)
	}
	if desc.URL != "http://cdn.example/hi.flac" {
		t.Errorf("desc.URL = %q", desc.URL)
	}
	if desc.Length != 900000 {
		t.Errorf("desc.Length = %d, want 900000", desc.Length)
	}
}

func TestResolveSetsExpiry(t *testing.T) {
	r := setupTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(playerBody))
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	_, desc, err := r.Resolve(context.Background(), "trk_1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := fixed.Add(time.Hour)
	if !desc.ExpiresAt.Equal(want) {
		t.Errorf("desc.ExpiresAt = %v, want %v", desc.ExpiresAt, want)
	}
	if desc.Expired(fixed.Add(2 * time.Hour)) != true {
		t.Error("descriptor should be expired two hours later")
	}
}

func TestResolveUnplayableTrack(t *testing.T) {
	r := setupTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"playabilityStatus": {"status": "ERROR", "reason": "region locked"}}`))
	})

	_, _, err := r.Resolve(context.Background(), "trk_2")
	if kind, ok := media.KindOf(err); !ok || kind != media.KindUnavailable {
		t.Fatalf("Resolve() error = %v, want KindUnavailable", err)
	}
}

func TestResolveNoPlayableFormats(t *testing.T) {
	r := setupTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{
			"playabilityStatus": {"status": "OK"},
			"streamingData": {"formats": [
				{"url": "http://cdn.example/v.mp4", "mimeType": "video/mp4", "bitrate": 1000, "contentLength": "1"}
			]}
		}`))
	})

	_, _, err := r.Resolve(context.Background(), "trk_3")
	if kind, ok := media.KindOf(err); !ok || kind != media.KindUnavailable {
		t.Fatalf("Resolve() error = %v, want KindUnavailable", err)
	}
}

func TestResolveRateLimited(t *testing.T) {
	r := setupTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, _, err := r.Resolve(context.Background(), "trk_4")

	var perr *media.PlaybackError
	if !errors.As(err, &perr) {
		t.Fatalf("Resolve() error = %v, want *media.PlaybackError", err)
	}
	if perr.Kind != media.KindRateLimited {
		t.Errorf("Kind = %v, want KindRateLimited", perr.Kind)
	}
	if perr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", perr.RetryAfter)
	}
	if !media.IsRetryable(err) {
		t.Error("rate limited errors must be retryable")
	}
}

func TestResolveServerError(t *testing.T) {
	r := setupTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, _, err := r.Resolve(context.Background(), "trk_5")
	if kind, ok := media.KindOf(err); !ok || kind != media.KindNetwork {
		t.Fatalf("Resolve() error = %v, want KindNetwork", err)
	}
	if !media.IsRetryable(err) {
		t.Error("network errors must be retryable")
	}
}

func TestResolveCipheredFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{
			"playabilityStatus": {"status": "OK"},
			"streamingData": {"formats": [
				{"signatureCipher": "s=abc&sp=sig&url=http%3A%2F%2Fcdn.example%2Fstream.mp3",
				 "mimeType": "audio/mpeg", "bitrate": 128, "contentLength": "100"}
			]}
		}`))
	}))
	t.Cleanup(server.Close)

	// Without a strategy the ciphered format is skipped.
	r := NewResolver(NewClient(server.URL, time.Second), nil)
	if _, _, err := r.Resolve(context.Background(), "trk_6"); err == nil {
		t.Fatal("expected error when no decipher strategy is set")
	}

	r = NewResolver(NewClient(server.URL, time.Second), NewChainStrategy([]SigOp{{Name: "reverse"}}))
	_, desc, err := r.Resolve(context.Background(), "trk_6")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if desc.URL != "http://cdn.example/stream.mp3?sig=cba" {
		t.Errorf("desc.URL = %q", desc.URL)
	}
}

func TestCodecFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want media.Codec
		ok   bool
	}{
		{"audio/mpeg", media.CodecMP3, true},
		{"audio/flac", media.CodecFLAC, true},
		{"audio/ogg; codecs=\"vorbis\"", media.CodecVorbis, true},
		{"audio/webm; codecs=\"opus\"", media.CodecOpus, true},
		{"audio/ogg", "", false},
		{"video/mp4", "", false},
	}

	for _, tt := range tests {
		got, ok := codecFromMIME(tt.mime)
		if got != tt.want || ok != tt.ok {
			t.Errorf("codecFromMIME(%q) = (%q, %v), want (%q, %v)", tt.mime, got, ok, tt.want, tt.ok)
		}
	}
}
