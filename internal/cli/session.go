package cli

import (
	"log/slog"

	"github.com/ashureev/whiteboard-tutor/internal/client"
	"github.com/ashureev/whiteboard-tutor/internal/dispatch"
	"github.com/ashureev/whiteboard-tutor/internal/report"
	"github.com/ashureev/whiteboard-tutor/internal/state"
)

// tutorSession wires a store, dispatcher and connection manager for one
// session.
type tutorSession struct {
	store      *state.Store
	dispatcher *dispatch.Dispatcher
	manager    *client.Manager
}

func newTutorSession(cfg client.Config, sessionID string) *tutorSession {
	logger := slog.Default()
	store := state.New(sessionID)
	reporter := report.Tee(store, report.NewLogReporter(logger))
	d := dispatch.New(store, reporter, nil, logger)

	m := client.NewManager(cfg, store,
		client.WithHandler(d.HandleText),
		client.WithReporter(reporter),
		client.WithLogger(logger),
	)
	return &tutorSession{store: store, dispatcher: d, manager: m}
}

func (s *tutorSession) connect() error {
	return s.manager.Connect(s.store.SessionID())
}

func (s *tutorSession) close() {
	s.manager.Close()
	s.dispatcher.Close()
}
