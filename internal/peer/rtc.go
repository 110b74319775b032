package peer

import (
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Link wraps a pion PeerConnection behind the PeerLink interface. The
// configured ICE servers are passed through opaquely.
type Link struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onICE       func(webrtc.ICECandidateInit)
	onConnected func()
	onFailed    func()

	closeOnce sync.Once
}

func NewLink(iceServers []string) (*Link, error) {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn
	se := webrtc.SettingEngine{LoggerFactory: lf}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &Link{pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if fn := l.iceHandler(); fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "peer.rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if fn := l.connectedHandler(); fn != nil {
				fn()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if fn := l.failedHandler(); fn != nil {
				fn()
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "peer.rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		// First inbound track also counts as connectivity established.
		if fn := l.connectedHandler(); fn != nil {
			fn()
		}
	})

	return l, nil
}

func (l *Link) iceHandler() func(webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onICE
}

func (l *Link) connectedHandler() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onConnected
}

func (l *Link) failedHandler() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onFailed
}

func (l *Link) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onICE = fn
}

func (l *Link) OnConnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnected = fn
}

func (l *Link) OnFailed(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFailed = fn
}

func (l *Link) AddTrack(track webrtc.TrackLocal) error {
	_, err := l.pc.AddTrack(track)
	return err
}

// CreateOfferAndSet builds the local offer and sets it; candidates trickle
// out through OnICECandidate, gathering is not awaited.
func (l *Link) CreateOfferAndSet() (webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (l *Link) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (l *Link) ApplyAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

func (l *Link) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(cand)
}

func (l *Link) Close() {
	l.closeOnce.Do(func() {
		if err := l.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "peer.rtc").Msg("close error")
		} else {
			log.Info().Str("module", "peer.rtc").Msg("closed")
		}
	})
}
