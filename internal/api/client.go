package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/wppcal/internal/auth"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon at socketPath, authenticating with token.
func Dial(socketPath, token string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.PerRPC{Token: token}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SyncChat(ctx context.Context, req *SyncChatRequest) (*SyncChatResponse, error) {
	return invoke[SyncChatResponse](ctx, c, MethodSyncChat, req)
}

func (c *Client) SyncAll(ctx context.Context, req *SyncAllRequest) (*SyncAllResponse, error) {
	return invoke[SyncAllResponse](ctx, c, MethodSyncAll, req)
}

func (c *Client) Mark(ctx context.Context, req *MarkRequest) (*MarkResponse, error) {
	return invoke[MarkResponse](ctx, c, MethodMark, req)
}

func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c, MethodStats, &StatsRequest{})
}

func (c *Client) Logs(ctx context.Context, req *LogsRequest) (*LogsResponse, error) {
	return invoke[LogsResponse](ctx, c, MethodLogs, req)
}

func (c *Client) Chats(ctx context.Context, req *ChatsRequest) (*ChatsResponse, error) {
	return invoke[ChatsResponse](ctx, c, MethodChats, req)
}

func (c *Client) RefreshChats(ctx context.Context) (*RefreshChatsResponse, error) {
	return invoke[RefreshChatsResponse](ctx, c, MethodRefreshChats, &RefreshChatsRequest{})
}

func (c *Client) DeleteEvent(ctx context.Context, req *DeleteEventRequest) (*DeleteEventResponse, error) {
	return invoke[DeleteEventResponse](ctx, c, MethodDeleteEvent, req)
}

func (c *Client) ForgetTombstones(ctx context.Context, req *ForgetTombstonesRequest) (*ForgetTombstonesResponse, error) {
	return invoke[ForgetTombstonesResponse](ctx, c, MethodForgetTombstones, req)
}

func (c *Client) WeeklyRun(ctx context.Context) (*WeeklyRunResponse, error) {
	return invoke[WeeklyRunResponse](ctx, c, MethodWeeklyRun, &WeeklyRunRequest{})
}

// Cancel asks the daemon to stop its runs in progress. Their callers still
// receive the partial reports.
func (c *Client) Cancel(ctx context.Context) (*CancelResponse, error) {
	return invoke[CancelResponse](ctx, c, MethodCancel, &CancelRequest{})
}

// Watch calls fn for every streamed event until ctx ends or fn returns an
// error. Payloads arrive as decoded JSON values.
func (c *Client) Watch(ctx context.Context, req *WatchRequest, fn func(*Envelope) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodWatch))
	if err != nil {
		return err
	}
	// io.EOF here means the server already ended the stream; its status
	// comes from RecvMsg below.
	if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var env Envelope
		if err := stream.RecvMsg(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(&env); err != nil {
			return err
		}
	}
}
