package hma

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"options-engine/pkg/exchanges/common"
)

// GetHMAMethod is the full method name served by the HMA service. Requests
// and replies are google.protobuf.Struct messages so no generated stubs are
// needed on either side.
const GetHMAMethod = "/hma.HMAService/GetHMA"

// GRPCClient asks the HMA service over gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	period  int
	tf      time.Duration
	timeout time.Duration
}

func NewGRPCClient(opts Options, dialOpts ...grpc.DialOption) (*GRPCClient, error) {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("hma grpc dial %s: %w", opts.Addr, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &GRPCClient{conn: conn, period: opts.Period, tf: opts.Timeframe, timeout: opts.Timeout}, nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *GRPCClient) GetHMA(ctx context.Context, symbol string) (float64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"symbol":    symbol,
		"period":    c.period,
		"timeframe": c.tf.String(),
	})
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GetHMAMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return 0, common.Transient("hma grpc", err)
		case codes.NotFound, codes.FailedPrecondition:
			return 0, fmt.Errorf("%s: %w", symbol, ErrNotReady)
		}
		return 0, fmt.Errorf("hma grpc %s: %w", symbol, err)
	}
	v, ok := resp.GetFields()["value"]
	if !ok {
		return 0, fmt.Errorf("hma grpc %s: reply without value", symbol)
	}
	value := v.GetNumberValue()
	if value <= 0 {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNotReady)
	}
	return value, nil
}
