package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Planner service methods. Requests and responses are google.protobuf.Struct
// documents shaped like RouteRequest/RouteDecision and PlanRequest/Plan.
const (
	PlannerServiceName = "tutor.v1.PlannerService"
	routeMethod        = "/" + PlannerServiceName + "/Route"
	planMethod         = "/" + PlannerServiceName + "/Plan"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errPlannerNotServing        = errors.New("planner not serving")
)

// GRPCPlannerConfig holds configuration for the planner client.
type GRPCPlannerConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCPlannerConfig returns default configuration for addr.
func DefaultGRPCPlannerConfig(addr string) GRPCPlannerConfig {
	return GRPCPlannerConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCPlanner calls a remote planner service.
type GRPCPlanner struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    GRPCPlannerConfig
	logger *slog.Logger
}

// NewGRPCPlanner connects to the planner and waits until the channel is
// ready, failing fast on a bad endpoint.
func NewGRPCPlanner(cfg GRPCPlannerConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCPlanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("planner address is required")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("Failed to close planner connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("planner at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to planner service", "address", cfg.Address)

	return &GRPCPlanner{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (p *GRPCPlanner) Close() error {
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close planner connection: %w", err)
	}
	return nil
}

// Health checks the planner service through the standard health protocol.
func (p *GRPCPlanner) Health(ctx context.Context) error {
	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{Service: PlannerServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errPlannerNotServing, resp.GetStatus())
	}
	return nil
}

// Route asks the planner to classify a canvas change.
func (p *GRPCPlanner) Route(ctx context.Context, req RouteRequest) (RouteDecision, error) {
	var decision RouteDecision
	if err := p.invoke(ctx, routeMethod, req, &decision); err != nil {
		return RouteDecision{}, err
	}
	return decision.Normalize(), nil
}

// Plan asks the planner how to answer a learner message.
func (p *GRPCPlanner) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	var plan Plan
	if err := p.invoke(ctx, planMethod, req, &plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (p *GRPCPlanner) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := p.conn.Invoke(callCtx, method, req, resp); err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return fromStruct(resp, out)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode planner request: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("convert planner request: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("convert planner response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode planner response: %w", err)
	}
	return nil
}
