package tutor

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/metrics"
	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRouteDecisionNormalize(t *testing.T) {
	t.Parallel()

	d := RouteDecision{
		Interrupt:   "shout",
		ProblemType: "chemistry",
		Reasoning:   strings.Repeat("r", 300),
		Concepts:    []string{"a", "b", "c", "d", "e", "f", "g"},
		Confidence:  3,
	}.Normalize()

	if d.Interrupt != InterruptNone || d.ProblemType != unknownProblem {
		t.Fatalf("enums not normalized: %+v", d)
	}
	if len(d.Reasoning) != maxReasoningChars || len(d.Concepts) != maxRouteConcepts || d.Confidence != 1 {
		t.Fatalf("bounds not applied: %+v", d)
	}
}

func TestLocalPlanner(t *testing.T) {
	t.Parallel()

	p := LocalPlanner{}
	ctx := context.Background()

	plan, err := p.Plan(ctx, PlanRequest{Text: "How do I take the derivative of sin x?", WeakConcepts: []string{"basic_arithmetic"}})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Mode != "hint" || plan.Outcome != domain.OutcomeNeutral || !strings.Contains(plan.Say, "basic arithmetic") {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if want := []string{"derivatives", "trigonometry"}; !reflect.DeepEqual(plan.Concepts, want) {
		t.Fatalf("concepts = %v, want %v", plan.Concepts, want)
	}

	if _, err := p.Plan(ctx, PlanRequest{Text: "  "}); err == nil {
		t.Fatal("expected error for empty intent")
	}

	d, err := p.Route(ctx, RouteRequest{RecentIntents: []string{"solve the triangle"}})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Interrupt != InterruptNone || d.ProblemType != "geometry" {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestFallbackPlannerUsesFallbackOnError(t *testing.T) {
	t.Parallel()

	primary := &stubPlanner{planErr: errors.New("unavailable"), route: RouteDecision{Interrupt: InterruptGentle}}
	p := NewFallbackPlanner(primary, nil, metrics.New(), nil)

	plan, err := p.Plan(context.Background(), PlanRequest{Text: "limits"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Outcome != domain.OutcomeNeutral {
		t.Fatalf("expected local plan, got %+v", plan)
	}

	d, err := p.Route(context.Background(), RouteRequest{})
	if err != nil || d.Interrupt != InterruptGentle {
		t.Fatalf("Route() = %+v, %v", d, err)
	}
}

// plannerServer answers planner calls generically, the way a service
// registered under the planner name would.
type plannerServer struct {
	mu      sync.Mutex
	methods []string
	last    map[string]any
	reply   map[string]any
	fail    bool
}

func (s *plannerServer) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}

	s.mu.Lock()
	s.methods = append(s.methods, method)
	s.last = req.AsMap()
	reply, fail := s.reply, s.fail
	s.mu.Unlock()

	if fail {
		return status.Error(codes.Unavailable, "planner overloaded")
	}
	resp, err := structpb.NewStruct(reply)
	if err != nil {
		return err
	}
	return stream.SendMsg(resp)
}

func startPlannerServer(t *testing.T, ps *plannerServer) *GRPCPlanner {
	t.Helper()
	p, _ := startPlannerServerWithHealth(t, ps)
	return p
}

func startPlannerServerWithHealth(t *testing.T, ps *plannerServer) (*GRPCPlanner, *health.Server) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	hs := health.NewServer()
	hs.SetServingStatus(PlannerServiceName, healthpb.HealthCheckResponse_SERVING)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(ps.handle))
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGRPCPlannerConfig("passthrough:///bufnet")
	cfg.RequestTimeout = 2 * time.Second
	p, err := NewGRPCPlanner(cfg, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("NewGRPCPlanner() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, hs
}

func TestGRPCPlannerRoute(t *testing.T) {
	t.Parallel()

	ps := &plannerServer{reply: map[string]any{
		"interrupt":    "urgent",
		"problem_type": "algebra",
		"concepts":     []any{"linear_equations"},
		"outcome":      "error",
		"confidence":   0.9,
	}}
	p := startPlannerServer(t, ps)

	d, err := p.Route(context.Background(), RouteRequest{SessionID: "s1", Width: 640, RecentIntents: []string{"x+1=2"}})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	want := RouteDecision{
		Interrupt:   InterruptUrgent,
		ProblemType: "algebra",
		Concepts:    []string{"linear_equations"},
		Outcome:     domain.OutcomeError,
		Confidence:  0.9,
	}
	if !reflect.DeepEqual(d, want) {
		t.Fatalf("Route() = %+v, want %+v", d, want)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.methods[0] != routeMethod {
		t.Fatalf("method = %q", ps.methods[0])
	}
	if ps.last["session_id"] != "s1" || ps.last["width"] != float64(640) {
		t.Fatalf("request = %v", ps.last)
	}
}

func TestGRPCPlannerPlan(t *testing.T) {
	t.Parallel()

	ps := &plannerServer{reply: map[string]any{
		"say":      "Try isolating x.",
		"duration": 6000,
		"annotations": []any{
			map[string]any{"kind": "underline", "start": map[string]any{"x": 1, "y": 2}, "end": map[string]any{"x": 3, "y": 2}},
		},
		"cursor_moves": []any{map[string]any{"x": 5, "y": 6, "duration": 250}},
	}}
	p := startPlannerServer(t, ps)

	plan, err := p.Plan(context.Background(), PlanRequest{SessionID: "s1", Text: "stuck"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Say != "Try isolating x." || plan.DurationMs != 6000 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if len(plan.Annotations) != 1 || plan.Annotations[0].Kind != protocol.AnnotationUnderline || plan.Annotations[0].End.X != 3 {
		t.Fatalf("unexpected annotations %+v", plan.Annotations)
	}
	if len(plan.CursorMoves) != 1 || plan.CursorMoves[0] != (CursorStep{X: 5, Y: 6, Duration: 250}) {
		t.Fatalf("unexpected cursor moves %+v", plan.CursorMoves)
	}
	if err := p.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
}

func TestGRPCPlannerSurfacesErrors(t *testing.T) {
	t.Parallel()

	p := startPlannerServer(t, &plannerServer{fail: true})
	_, err := p.Plan(context.Background(), PlanRequest{Text: "x"})
	if status.Code(errors.Unwrap(err)) != codes.Unavailable {
		t.Fatalf("Plan() error = %v", err)
	}
}

func TestNewGRPCPlannerRequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := NewGRPCPlanner(GRPCPlannerConfig{}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFallbackPlannerStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if got := NewFallbackPlanner(nil, nil, nil, nil).Status(ctx); got != PlannerLocal {
		t.Fatalf("no primary: Status() = %q", got)
	}
	if got := NewFallbackPlanner(&stubPlanner{}, nil, nil, nil).Status(ctx); got != PlannerUnknown {
		t.Fatalf("unchecked primary: Status() = %q", got)
	}

	remote, hs := startPlannerServerWithHealth(t, &plannerServer{})
	p := NewFallbackPlanner(remote, nil, nil, nil)
	if got := p.Status(ctx); got != PlannerServing {
		t.Fatalf("serving primary: Status() = %q", got)
	}
	hs.SetServingStatus(PlannerServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	if got := p.Status(ctx); got != PlannerUnavailable {
		t.Fatalf("not serving primary: Status() = %q", got)
	}
}
