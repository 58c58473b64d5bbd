// Package media reads and writes IVF files: a player feeding the local
// track and recorders used as relay sinks.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

// Player paces the frames of an IVF file into a sample track.
type Player struct {
	Path  string
	Track *webrtc.TrackLocalStaticSample
	// Loop restarts the file at EOF instead of returning.
	Loop bool

	frames atomic.Uint64
}

// NewVP8Track creates the local camera track.
func NewVP8Track(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
}

func (p *Player) Frames() uint64 { return p.frames.Load() }

// Run plays until ctx is done, or until EOF when not looping.
func (p *Player) Run(ctx context.Context) error {
	for {
		err := p.playOnce(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return err
		}
		if !p.Loop {
			return nil
		}
	}
}

func (p *Player) playOnce(ctx context.Context) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("ivf %s: %w", p.Path, err)
	}
	if header.TimebaseDenominator == 0 {
		return fmt.Errorf("ivf %s: zero timebase", p.Path)
	}
	frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if frameDuration <= 0 {
		frameDuration = time.Second / 30
	}
	log.Info().
		Str("module", "adapters.media").
		Str("file", p.Path).
		Str("fourcc", header.FourCC).
		Dur("frame", frameDuration).
		Msg("playing")

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ivf %s: %w", p.Path, err)
		}
		if err := p.Track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
		p.frames.Add(1)
	}
}
