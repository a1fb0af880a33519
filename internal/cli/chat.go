package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/whiteboard-tutor/internal/client"
	"github.com/ashureev/whiteboard-tutor/internal/identity"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const chatHelp = `commands:
  /interrupt  stop the tutor mid-sentence
  /reconnect  reconnect with a fresh retry budget
  /status     show the connection status
  /quit       leave the session
anything else is sent to the tutor`

// lineReader is the part of *readline.Instance the chat loop uses.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a text conversation with the tutor",
		Long: `Connect to a tutoring session and talk to the tutor line by line.

Tutor subtitles, toasts, knowledge graph updates and connection changes are
printed as they arrive. Type /help for the session commands.

Examples:
  tutorctl chat
  tutorctl chat --session lesson-42 --url https://tutor.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.clientConfig(cmd)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = identity.NewSessionID()
			}
			if !identity.ValidSessionID(sessionID) {
				return fmt.Errorf("invalid session id %q", sessionID)
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "/quit",
			})
			if err != nil {
				return fmt.Errorf("failed to start prompt: %w", err)
			}

			sess := newTutorSession(cfg, sessionID)
			defer sess.close()

			out := rl.Stdout()
			_, _ = fmt.Fprintf(out, "session %s (type /help for commands)\n", sessionID)
			return runChat(sess, rl, out)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to join (default: a new random id)")

	return cmd
}

// runChat connects sess and feeds lines from lr to the tutor until /quit or
// end of input. It closes lr.
func runChat(sess *tutorSession, lr lineReader, out io.Writer) error {
	defer func() { _ = lr.Close() }()

	w := newWatcher(out)
	unsubscribe := sess.store.Subscribe(w.observe)
	defer unsubscribe()

	if err := sess.connect(); err != nil {
		return err
	}

	for {
		line, err := lr.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		quit, err := handleLine(sess, strings.TrimSpace(line), out)
		if err != nil {
			_, _ = fmt.Fprintf(out, "! %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handleLine runs a session command or sends line as a user intent.
func handleLine(sess *tutorSession, line string, out io.Writer) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		err := sess.manager.SendUserIntent(line)
		if errors.Is(err, client.ErrNotConnected) {
			return false, errors.New("not connected, message dropped (try /reconnect)")
		}
		return false, err
	}

	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, nil
	case "/interrupt":
		return false, sess.manager.SendInterrupt("")
	case "/reconnect":
		return false, sess.manager.Reconnect()
	case "/status":
		st := sess.manager.Status()
		snap := sess.store.Snapshot()
		_, _ = fmt.Fprintf(out, "session %s: %s (attempts %d, latency %s, errors %d)\n",
			st.SessionID, st.State, st.Attempts, snap.Latency, len(snap.Errors))
		return false, nil
	case "/help":
		_, _ = fmt.Fprintln(out, chatHelp)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", line)
	}
}
