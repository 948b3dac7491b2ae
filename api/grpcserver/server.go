package grpcserver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"stockbook/infra/memory"
	"stockbook/service"
)

// Server adapts OrderService to gRPC.
type Server struct {
	svc *service.OrderService
	log *zap.Logger
}

func NewServer(svc *service.OrderService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log.Named("grpc")}
}

// -------------------- Commands --------------------

func (s *Server) AddOrder(
	ctx context.Context,
	req *AddOrderRequest,
) (*AddOrderResponse, error) {
	side, ok := toSide(req.Side)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown side %q", req.Side)
	}

	h, err := s.svc.AddOrder(side, req.Ticker, req.Quantity, req.Price)
	if errors.Is(err, memory.ErrArenaExhausted) {
		return nil, status.Error(codes.ResourceExhausted, "order book is full")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	s.log.Debug("add order",
		zap.Stringer("side", side),
		zap.String("ticker", req.Ticker),
		zap.Int64("quantity", req.Quantity),
		zap.Float64("price", req.Price),
		zap.Uint32("handle", uint32(h)),
	)

	return &AddOrderResponse{Handle: uint32(h)}, nil
}

func (s *Server) MatchOrders(
	ctx context.Context,
	req *MatchOrdersRequest,
) (*MatchOrdersResponse, error) {
	reports, err := s.svc.Match(ctx)
	if err != nil && len(reports) == 0 {
		if ctx.Err() != nil {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err != nil {
		// The pass happened; delivery will be retried from the outbox.
		s.log.Warn("match stored partially", zap.Error(err))
	}
	return &MatchOrdersResponse{Executions: reports}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetSnapshot(
	ctx context.Context,
	req *SnapshotRequest,
) (*SnapshotResponse, error) {
	orders := s.svc.Snapshot()

	resp := &SnapshotResponse{
		LastSeq: s.svc.LastSeq(),
		Orders:  make([]OrderEntry, 0, len(orders)),
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, OrderEntry{
			Handle:   uint32(o.Handle),
			Side:     fromSide(o.Side),
			Ticker:   o.Ticker,
			Quantity: o.Quantity,
			Price:    o.Price,
		})
	}
	return resp, nil
}

// -------------------- Interceptors --------------------

// LoggingInterceptor logs every unary call with its status code.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Stringer("code", code),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil && code != codes.InvalidArgument {
			log.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("rpc", fields...)
		}
		return resp, err
	}
}
