package report

import (
	"errors"
	"testing"
)

func TestSeverityOf(t *testing.T) {
	t.Parallel()

	cases := map[Code]Severity{
		CodeConnection:           SeverityMedium,
		CodeConnect:              SeverityHigh,
		CodeSend:                 SeverityMedium,
		CodeParse:                SeverityLow,
		CodeMaxReconnectAttempts: SeverityHigh,
	}
	for code, want := range cases {
		if got := SeverityOf(code); got != want {
			t.Errorf("SeverityOf(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestNewDerivesSeverity(t *testing.T) {
	t.Parallel()

	r := New(CodeParse, "bad payload", errors.New("unexpected EOF"))
	if r.Severity != SeverityLow {
		t.Fatalf("expected low severity, got %s", r.Severity)
	}
	if r.Error() != "PARSE_ERROR: bad payload: unexpected EOF" {
		t.Fatalf("unexpected Error(): %q", r.Error())
	}
	if r.Terminal() {
		t.Fatal("parse errors are not terminal")
	}
	if !New(CodeMaxReconnectAttempts, "gave up", nil).Terminal() {
		t.Fatal("max reconnect attempts must be terminal")
	}
}

func TestTeeSkipsNilAndPreservesOrder(t *testing.T) {
	t.Parallel()

	var order []string
	first := Func(func(Report) { order = append(order, "first") })
	second := Func(func(Report) { order = append(order, "second") })

	Tee(first, nil, second).Report(New(CodeSend, "x", nil))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestRecorderCount(t *testing.T) {
	t.Parallel()

	var rec Recorder
	rec.Report(New(CodeSend, "a", nil))
	rec.Report(New(CodeSend, "b", nil))
	rec.Report(New(CodeParse, "c", nil))

	if rec.Count(CodeSend) != 2 || rec.Count(CodeParse) != 1 || rec.Count(CodeConnect) != 0 {
		t.Fatalf("unexpected counts: %+v", rec.Reports())
	}
}
