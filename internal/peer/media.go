package peer

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// opusSilence is a single encoded Opus frame of silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// SyntheticAudio is a MediaSource that publishes a silent Opus track, so a
// headless peer can complete a real negotiation without capture hardware.
type SyntheticAudio struct {
	// FrameDuration defaults to 20ms.
	FrameDuration time.Duration
}

func (s *SyntheticAudio) Acquire(ctx context.Context) ([]webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "roulette-peer",
	)
	if err != nil {
		return nil, err
	}

	interval := s.FrameDuration
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	go s.pump(ctx, track, interval)

	return []webrtc.TrackLocal{track}, nil
}

func (s *SyntheticAudio) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "peer.media").Msg("synthetic audio stopped")
			return
		case <-ticker.C:
			sample := media.Sample{Data: opusSilence, Duration: interval}
			if err := track.WriteSample(sample); err != nil {
				log.Warn().Err(err).Str("module", "peer.media").Msg("write sample")
				return
			}
		}
	}
}

// NoMedia is the MediaSource for text sessions: nothing to publish.
type NoMedia struct{}

func (NoMedia) Acquire(context.Context) ([]webrtc.TrackLocal, error) { return nil, nil }
