// ABOUTME: Entry point for the tonearm streaming player
// ABOUTME: Parses flags, wires the pipeline, and plays the given tracks
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tonearm/tonearm/internal/cachestore"
	"github.com/tonearm/tonearm/internal/catalog"
	"github.com/tonearm/tonearm/internal/config"
	"github.com/tonearm/tonearm/internal/fetch"
	"github.com/tonearm/tonearm/internal/player"
	"github.com/tonearm/tonearm/pkg/audio/output"
	"github.com/tonearm/tonearm/pkg/media"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	volumeFlag  = flag.Int("volume", -1, "Playback volume 0-100 (default: from config)")
	clearCache  = flag.Bool("clear-cache", false, "Wipe the stream cache and exit")
	cacheStats  = flag.Bool("cache-stats", false, "Print cache occupancy and exit")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tonearm v%s - streaming audio player\n\n", config.AppVersion)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] TRACK_ID [TRACK_ID...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("tonearm v%s\n", config.AppVersion)
		os.Exit(0)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("tonearm exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Using default configuration")
	}

	store, err := cachestore.Open(cfg.CacheDir, cfg.CacheBudget())
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	if *clearCache {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Println("cache cleared")
		return nil
	}
	if *cacheStats {
		st := store.Stats()
		fmt.Printf("entries: %d (%d complete)\nbytes: %d of %d budget\nevictions: %d\n",
			st.Entries, st.Complete, st.Bytes, st.Budget, st.Evictions)
		return nil
	}

	trackIDs := flag.Args()
	if len(trackIDs) == 0 {
		flag.Usage()
		return fmt.Errorf("no track to play")
	}

	resolver := catalog.NewResolver(
		catalog.NewClient(cfg.CatalogURL, cfg.HTTPTimeout()),
		catalog.NewChainStrategy(nil),
	)
	fetcher := fetch.New(store, resolver.Resolve, cfg.HTTPTimeout(), cfg.ReadAhead())

	device := output.NewOto(output.DeviceFormat{
		SampleRate:   output.DefaultSampleRate,
		Channels:     output.DefaultChannels,
		BufferFrames: output.DefaultBufferFrames,
	})

	volume := cfg.Volume
	if *volumeFlag >= 0 {
		volume = config.ClampVolume(*volumeFlag)
	}

	done := make(chan player.Status, 1)
	ctrl, err := player.New(player.Config{
		Resolve: player.ResolveFunc(resolver.Resolve),
		Open: func(ctx context.Context, trackID string, desc media.StreamDescriptor) (player.Source, error) {
			return fetcher.Open(ctx, trackID, desc)
		},
		Device:    device,
		MinBuffer: cfg.MinBuffer(),
		Volume:    volume,
		OnChange: func(st player.Status) {
			log.Info().
				Stringer("state", st.State).
				Str("track", st.Track.String()).
				Dur("position", st.Position).
				Msg("Playback")
			if st.State.Terminal() {
				select {
				case done <- st:
				default:
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	defer ctrl.Close()

	ctrl.Play(media.Track{ID: trackIDs[0]})
	for _, id := range trackIDs[1:] {
		ctrl.Enqueue(media.Track{ID: id})
	}

	cfg.LastTrack = trackIDs[0]
	if err := cfg.Save(); err != nil {
		log.Debug().Err(err).Msg("Could not persist config")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			log.Info().Stringer("signal", sig).Msg("Shutting down")
			return nil
		case st := <-done:
			if st.State == player.StateFailed {
				return fmt.Errorf("playback failed: %w", st.Err)
			}
			// Ended: the controller auto-advances when tracks remain
			// queued, so give it a moment before treating this as the
			// end of the program.
			time.Sleep(100 * time.Millisecond)
			if ctrl.Status().State == player.StateEnded {
				return nil
			}
		}
	}
}
