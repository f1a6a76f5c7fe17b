package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wppcal.v1.Control"

// Method names of the control service.
const (
	MethodSyncChat         = "SyncChat"
	MethodSyncAll          = "SyncAll"
	MethodMark             = "Mark"
	MethodStats            = "Stats"
	MethodLogs             = "Logs"
	MethodChats            = "Chats"
	MethodRefreshChats     = "RefreshChats"
	MethodDeleteEvent      = "DeleteEvent"
	MethodForgetTombstones = "ForgetTombstones"
	MethodWeeklyRun        = "WeeklyRun"
	MethodCancel           = "Cancel"
	MethodWatch            = "Watch"
)

// FullMethod returns the wire name of a control method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ControlServer is what the service descriptor dispatches to.
type ControlServer interface {
	SyncChat(context.Context, *SyncChatRequest) (*SyncChatResponse, error)
	SyncAll(context.Context, *SyncAllRequest) (*SyncAllResponse, error)
	Mark(context.Context, *MarkRequest) (*MarkResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
	Logs(context.Context, *LogsRequest) (*LogsResponse, error)
	Chats(context.Context, *ChatsRequest) (*ChatsResponse, error)
	RefreshChats(context.Context, *RefreshChatsRequest) (*RefreshChatsResponse, error)
	DeleteEvent(context.Context, *DeleteEventRequest) (*DeleteEventResponse, error)
	ForgetTombstones(context.Context, *ForgetTombstonesRequest) (*ForgetTombstonesResponse, error)
	WeeklyRun(context.Context, *WeeklyRunRequest) (*WeeklyRunResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	Watch(req *WatchRequest, send func(*Envelope) error, done <-chan struct{}) error
}

var _ ControlServer = (*ControlService)(nil)

func unary[Req, Resp any](name string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	send := func(e *Envelope) error { return stream.SendMsg(e) }
	return srv.(ControlServer).Watch(req, send, stream.Context().Done())
}

// ServiceDesc describes the control service to grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSyncChat, ControlServer.SyncChat),
		unary(MethodSyncAll, ControlServer.SyncAll),
		unary(MethodMark, ControlServer.Mark),
		unary(MethodStats, ControlServer.Stats),
		unary(MethodLogs, ControlServer.Logs),
		unary(MethodChats, ControlServer.Chats),
		unary(MethodRefreshChats, ControlServer.RefreshChats),
		unary(MethodDeleteEvent, ControlServer.DeleteEvent),
		unary(MethodForgetTombstones, ControlServer.ForgetTombstones),
		unary(MethodWeeklyRun, ControlServer.WeeklyRun),
		unary(MethodCancel, ControlServer.Cancel),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
