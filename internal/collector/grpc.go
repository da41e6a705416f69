package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

// collectorServer — серверная сторона reqtrail.v1.Collector.
type collectorServer interface {
	Deliver(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// GRPCServer принимает отчеты от GRPCGateway.
type GRPCServer struct {
	sink   Sink
	logger *zap.Logger
}

func NewGRPCServer(sink Sink, logger *zap.Logger) *GRPCServer {
	return &GRPCServer{sink: sink, logger: logger.Named("collector-grpc")}
}

func (s *GRPCServer) Deliver(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	rep, err := delivery.FromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	err = accept(s.sink, rep)
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case isInvalid(err):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, delivery.ErrOverflow):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	default:
		s.logger.Error("report rejected", zap.String("id", rep.ID), zap.Error(err))
		return nil, status.Error(codes.Unavailable, err.Error())
	}
}

// RegisterGRPCServer регистрирует сервис без сгенерированного кода:
// запрос и ответ — well-known типы protobuf.
func RegisterGRPCServer(reg grpc.ServiceRegistrar, srv *GRPCServer) {
	reg.RegisterService(&collectorServiceDesc, srv)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(collectorServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: delivery.DeliverFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(collectorServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: delivery.CollectorService,
	HandlerType: (*collectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: delivery.DeliverMethod,
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reqtrail/v1/collector.proto",
}

// UnaryLoggingInterceptor пишет в лог каждый вызов с кодом и длительностью.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)))
		return resp, err
	}
}
