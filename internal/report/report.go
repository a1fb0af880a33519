// Package report provides the shared error-reporting sink used by the
// whiteboard client. Every recoverable and terminal failure is surfaced as a
// Report tagged with a code and a severity.
package report

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Severity ranks how disruptive a reported error is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Code identifies the failure category.
type Code string

const (
	CodeConnection           Code = "CONNECTION_ERROR"
	CodeConnect              Code = "CONNECT_ERROR"
	CodeSend                 Code = "SEND_ERROR"
	CodeParse                Code = "PARSE_ERROR"
	CodeMaxReconnectAttempts Code = "MAX_RECONNECT_ATTEMPTS"
)

// SeverityOf returns the fixed severity for a code.
func SeverityOf(code Code) Severity {
	switch code {
	case CodeConnect, CodeMaxReconnectAttempts:
		return SeverityHigh
	case CodeConnection, CodeSend:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Report is a single reported failure.
type Report struct {
	Code     Code
	Severity Severity
	Message  string
	Err      error
	At       time.Time
}

// New builds a report whose severity is derived from code.
func New(code Code, message string, err error) Report {
	return Report{
		Code:     code,
		Severity: SeverityOf(code),
		Message:  message,
		Err:      err,
		At:       time.Now(),
	}
}

// Error implements error so a Report can be returned or wrapped.
func (r Report) Error() string {
	if r.Err != nil {
		return string(r.Code) + ": " + r.Message + ": " + r.Err.Error()
	}
	return string(r.Code) + ": " + r.Message
}

// Terminal reports whether the failure ends the channel for good.
func (r Report) Terminal() bool {
	return r.Code == CodeMaxReconnectAttempts
}

// Reporter receives reports. Implementations must not block.
type Reporter interface {
	Report(r Report)
}

// Func adapts a function to Reporter.
type Func func(r Report)

// Report calls f(r).
func (f Func) Report(r Report) { f(r) }

// Tee fans a report out to every non-nil reporter in order.
func Tee(reporters ...Reporter) Reporter {
	var rs []Reporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return Func(func(r Report) {
		for _, rep := range rs {
			rep.Report(r)
		}
	})
}

// LogReporter writes reports to a structured logger, mapping severity to level.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter. A nil logger uses slog.Default().
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report logs r.
func (l *LogReporter) Report(r Report) {
	level := slog.LevelInfo
	switch r.Severity {
	case SeverityMedium:
		level = slog.LevelWarn
	case SeverityHigh:
		level = slog.LevelError
	}
	attrs := []any{"code", string(r.Code), "severity", r.Severity.String()}
	if r.Err != nil {
		attrs = append(attrs, "error", r.Err)
	}
	l.logger.Log(context.Background(), level, r.Message, attrs...)
}

// Recorder keeps every report in memory. Useful for tests and for
// surfacing a history in diagnostic commands.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

// Report appends r.
func (rec *Recorder) Report(r Report) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reports = append(rec.reports, r)
}

// Reports returns a copy of everything recorded so far.
func (rec *Recorder) Reports() []Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Report, len(rec.reports))
	copy(out, rec.reports)
	return out
}

// Count returns how many reports carry code.
func (rec *Recorder) Count(code Code) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, r := range rec.reports {
		if r.Code == code {
			n++
		}
	}
	return n
}
