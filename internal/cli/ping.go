package cli

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/identity"
	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/ashureev/whiteboard-tutor/internal/state"
	"github.com/spf13/cobra"
)

var errPingTimeout = errors.New("no pong before timeout")

func newPingCmd(opts *globalOptions) *cobra.Command {
	var (
		sessionID string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round-trip latency to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.clientConfig(cmd)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = identity.NewSessionID()
			}

			sess := newTutorSession(cfg, sessionID)
			defer sess.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			latency, err := ping(ctx, sess)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pong from %s: %s\n", cfg.BaseURL, latency)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to use (default: a new random id)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the connection and the pong")

	return cmd
}

// ping connects, sends one ping once the channel is open and waits for the
// matching pong.
func ping(ctx context.Context, sess *tutorSession) (time.Duration, error) {
	connected := make(chan struct{}, 1)
	ponged := make(chan time.Duration, 1)
	var sent atomic.Int64

	unsubscribe := sess.store.Subscribe(func(s state.Snapshot) {
		if s.Connected() {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
		if at := sent.Load(); at != 0 && !s.LastPong.IsZero() && s.LastPong.UnixNano() >= at {
			select {
			case ponged <- s.Latency:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := sess.connect(); err != nil {
		return 0, err
	}

	select {
	case <-connected:
	case <-ctx.Done():
		return 0, fmt.Errorf("failed to connect: %w", context.Cause(ctx))
	}

	sent.Store(time.Now().UnixNano())
	if err := sess.manager.SendMessage(&protocol.Ping{}); err != nil {
		return 0, fmt.Errorf("failed to send ping: %w", err)
	}

	select {
	case latency := <-ponged:
		return latency, nil
	case <-ctx.Done():
		return 0, errPingTimeout
	}
}
