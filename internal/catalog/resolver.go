// ABOUTME: Track resolution: catalog lookup plus stream format selection
// ABOUTME: Picks the best audio format and builds a time-limited descriptor
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tonearm/tonearm/pkg/media"
)

// defaultExpiry is assumed when the catalog omits an expiry hint.
const defaultExpiry = 6 * time.Hour

// playerResponse is the catalog's answer for one track.
type playerResponse struct {
	Playability struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	StreamingData struct {
		ExpiresInSeconds int64        `json:"expiresInSeconds"`
		Formats          []formatInfo `json:"formats"`
	} `json:"streamingData"`
	TrackDetails struct {
		TrackID         string   `json:"trackId"`
		Title           string   `json:"title"`
		Artists         []string `json:"artists"`
		DurationSeconds int64    `json:"durationSeconds"`
	} `json:"trackDetails"`
}

// formatInfo is one stream variant offered by the catalog.
type formatInfo struct {
	URL             string `json:"url"`
	SignatureCipher string `json:"signatureCipher"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	ContentLength   int64  `json:"contentLength,string"`
	AudioQuality    string `json:"audioQuality"`
}

// Resolver turns track IDs into playable stream descriptors.
type Resolver struct {
	client   *Client
	decipher DecipherStrategy
	now      func() time.Time
}

// NewResolver builds a resolver. A nil strategy means formats that
// require deciphering are skipped.
func NewResolver(client *Client, decipher DecipherStrategy) *Resolver {
	return &Resolver{
		client:   client,
		decipher: decipher,
		now:      time.Now,
	}
}

// Resolve looks a track up and selects the best playable format.
// The returned descriptor expires; callers must check Expired before
// using its URL and re-resolve when it goes stale.
func (r *Resolver) Resolve(ctx context.Context, trackID string) (media.Track, media.StreamDescriptor, error) {
	var resp playerResponse
	if err := r.client.getJSON(ctx, fmt.Sprintf("/v1/player/%s", trackID), &resp); err != nil {
		return media.Track{}, media.StreamDescriptor{}, err
	}

	if resp.Playability.Status != "OK" {
		reason := resp.Playability.Reason
		if reason == "" {
			reason = "unknown reason"
		}
		return media.Track{}, media.StreamDescriptor{},
			media.Errorf(media.KindUnavailable, "track %s not playable: %s", trackID, reason)
	}

	track := media.Track{
		ID:       trackID,
		Title:    resp.TrackDetails.Title,
		Artists:  resp.TrackDetails.Artists,
		Duration: time.Duration(resp.TrackDetails.DurationSeconds) * time.Second,
	}

	desc, err := r.selectFormat(trackID, resp.StreamingData.Formats)
	if err != nil {
		return media.Track{}, media.StreamDescriptor{}, err
	}

	expiresIn := time.Duration(resp.StreamingData.ExpiresInSeconds) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiry
	}
	desc.ExpiresAt = r.now().Add(expiresIn)

	log.Debug().
		Str("track", trackID).
		Str("codec", string(desc.Codec)).
		Int("bitrate", desc.Bitrate).
		Time("expires", desc.ExpiresAt).
		Msg("Resolved stream")

	return track, desc, nil
}

// selectFormat picks the highest-quality playable format: codec
// quality score first, bitrate as the tie breaker.
func (r *Resolver) selectFormat(trackID string, formats []formatInfo) (media.StreamDescriptor, error) {
	var (
		best      media.StreamDescriptor
		bestScore = -1
		bestRate  = -1
	)

	for _, f := range formats {
		codec, ok := codecFromMIME(f.MimeType)
		if !ok {
			continue
		}

		url := f.URL
		if url == "" && f.SignatureCipher != "" {
			if r.decipher == nil {
				continue
			}
			deciphered, err := r.decipher.Apply(f.SignatureCipher)
			if err != nil {
				log.Debug().Err(err).Str("track", trackID).Msg("Decipher failed, skipping format")
				continue
			}
			url = deciphered
		}
		if url == "" {
			continue
		}

		score := codec.QualityScore()
		if score < bestScore || (score == bestScore && f.Bitrate <= bestRate) {
			continue
		}
		bestScore = score
		bestRate = f.Bitrate
		best = media.StreamDescriptor{
			URL:     url,
			Codec:   codec,
			Bitrate: f.Bitrate,
			Length:  f.ContentLength,
		}
	}

	if bestScore < 0 {
		return media.StreamDescriptor{},
			media.Errorf(media.KindUnavailable, "track %s has no playable formats", trackID)
	}
	return best, nil
}

// codecFromMIME maps catalog MIME types onto decoder codecs.
func codecFromMIME(mime string) (media.Codec, bool) {
	base, params, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	params = strings.ToLower(params)

	switch base {
	case "audio/mpeg", "audio/mp3":
		return media.CodecMP3, true
	case "audio/flac", "audio/x-flac":
		return media.CodecFLAC, true
	case "audio/ogg", "audio/webm":
		if strings.Contains(params, "opus") {
			return media.CodecOpus, true
		}
		if strings.Contains(params, "vorbis") {
			return media.CodecVorbis, true
		}
		return "", false
	default:
		return "", false
	}
}
