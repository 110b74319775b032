package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
	"github.com/avdeyev/roulette/internal/peer"
)

var (
	flagServerURL  string
	flagChatType   string
	flagICEServers []string
	flagNextAfter  time.Duration
	flagVerbose    bool

	flagICEExplicit bool
)

var rootCmd = &cobra.Command{
	Use:   "roulette-peer",
	Short: "Headless peer for the roulette matchmaking server",
	Long: `Connects to a roulette server, enters the waiting queue and, for video
sessions, negotiates a direct WebRTC connection with whoever it gets paired
with. In text mode, stdin lines are sent as chat messages.`,
	RunE: runPeer,
}

func init() {
	rootCmd.Flags().StringVarP(&flagServerURL, "server", "s", "ws://localhost:8080/api/ws/signal", "signaling server websocket URL")
	rootCmd.Flags().StringVarP(&flagChatType, "type", "t", "video", "chat type: video or text")
	rootCmd.Flags().StringSliceVar(&flagICEServers, "ice", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN server URLs")
	rootCmd.Flags().DurationVar(&flagNextAfter, "next-after", 0, "automatically call next this long after connecting (0 = stay)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is the per-room state of the running peer.
type session struct {
	mu      sync.Mutex
	machine *peer.Machine
	cancel  context.CancelFunc
	roomID  domain.RoomID
}

func (s *session) current() (*peer.Machine, domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine, s.roomID
}

func (s *session) replace(m *peer.Machine, cancel context.CancelFunc, roomID domain.RoomID) {
	s.mu.Lock()
	old, oldCancel := s.machine, s.cancel
	s.machine, s.cancel, s.roomID = m, cancel, roomID
	s.mu.Unlock()
	if old != nil {
		old.Teardown(peer.CloseTorndown)
	}
	if oldCancel != nil {
		oldCancel()
	}
}

func runPeer(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ct := domain.ChatType(flagChatType)
	if !ct.Valid() {
		return domain.ErrUnknownChatType
	}
	flagICEExplicit = cmd.Flags().Changed("ice")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := peer.NewClient(flagServerURL, uuid.NewString())
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendWaiting(ct); err != nil {
		return err
	}
	log.Info().Str("chat_type", string(ct)).Msg("waiting for a partner")

	sess := &session{}
	go readStdin(ctx, client, sess)

	for {
		select {
		case <-ctx.Done():
			_ = client.SendLeave()
			sess.replace(nil, nil, "")
			return nil
		case frame, ok := <-client.Incoming():
			if !ok {
				return errors.New("server connection closed")
			}
			if err := dispatch(ctx, client, sess, ct, frame); err != nil {
				return err
			}
		}
	}
}

func dispatch(ctx context.Context, client *peer.Client, sess *session, ct domain.ChatType, frame core.Frame) error {
	var env core.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Warn().Err(err).Msg("bad frame from server")
		return nil
	}

	switch env.Type {
	case core.TypeRoomAssigned:
		var p core.RoomAssignedPayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return nil
		}
		return startSession(ctx, client, sess, ct, p)

	case core.TypeOffer:
		var p core.DescriptionPayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return nil
		}
		if m, _ := sess.current(); m != nil {
			m.HandleOffer(p.SDP)
		}

	case core.TypeAnswer:
		var p core.DescriptionPayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return nil
		}
		if m, _ := sess.current(); m != nil {
			m.HandleAnswer(p.SDP)
		}

	case core.TypeICECandidate:
		var p core.CandidatePayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return nil
		}
		if m, _ := sess.current(); m != nil {
			m.HandleRemoteCandidate(p.Candidate)
		}

	case core.TypeChatMessage:
		var p core.ChatMessagePayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return nil
		}
		os.Stdout.WriteString("> " + p.Text + "\n")

	case core.TypeSessionEnded:
		var p core.SessionEndedPayload
		_ = json.Unmarshal(frame, &p)
		log.Info().Str("reason", string(p.Reason)).Msg("session ended by peer")
		sess.replace(nil, nil, "")
		// The survivor re-enqueues on its own decision; this peer always
		// wants a new partner.
		return client.SendWaiting(ct)

	case core.TypeError:
		var p core.ErrorPayload
		_ = json.Unmarshal(frame, &p)
		log.Warn().Str("error", p.Error).Msg("server error")

	case core.TypePong:

	default:
		log.Debug().Str("type", env.Type).Msg("unhandled frame")
	}
	return nil
}

func startSession(ctx context.Context, client *peer.Client, sess *session, ct domain.ChatType, p core.RoomAssignedPayload) error {
	log.Info().Str("room", string(p.RoomID)).Bool("initiator", p.Initiator).Msg("paired")

	if ct == domain.ChatTypeText {
		sess.replace(nil, nil, p.RoomID)
		return nil
	}

	// The server announces its configured STUN/TURN servers with the room;
	// an explicit --ice flag overrides them.
	ice := flagICEServers
	if !flagICEExplicit && len(p.ICEServers) > 0 {
		ice = p.ICEServers
	}

	link, err := peer.NewLink(ice)
	if err != nil {
		return err
	}

	mctx, mcancel := context.WithCancel(ctx)
	machine := peer.NewMachine(link, &peer.SyntheticAudio{}, client, func(s peer.State, r peer.CloseReason) {
		log.Info().Str("state", s.String()).Str("reason", string(r)).Msg("negotiation")
		if s == peer.StateConnected && flagNextAfter > 0 {
			go func() {
				select {
				case <-mctx.Done():
				case <-time.After(flagNextAfter):
					log.Info().Msg("auto next")
					if m, _ := sess.current(); m != nil {
						m.Teardown(peer.CloseTorndown)
					}
					_ = client.SendNext(ct)
				}
			}()
		}
	})

	sess.replace(machine, mcancel, p.RoomID)
	machine.Start(mctx, p.RoomID, p.Initiator)
	return nil
}

// readStdin forwards typed lines as chat messages to the current room.
func readStdin(ctx context.Context, client *peer.Client, sess *session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		_, roomID := sess.current()
		if roomID == "" {
			log.Warn().Msg("not in a room yet")
			continue
		}
		if err := client.SendChat(roomID, text); err != nil {
			return
		}
	}
}
