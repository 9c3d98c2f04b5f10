package hma

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"options-engine/internal/model"
	"options-engine/pkg/clock"
	"options-engine/pkg/exchanges/common"
)

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hma", r.URL.Path)
		switch r.URL.Query().Get("symbol") {
		case "A":
			assert.Equal(t, "55", r.URL.Query().Get("period"))
			_, _ = w.Write([]byte(`{"symbol":"A","value":101.25}`))
		case "NEW":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{Addr: srv.URL, Period: 55, Timeframe: 5 * time.Minute, Timeout: time.Second})
	v, err := c.GetHMA(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 101.25, v)

	_, err = c.GetHMA(context.Background(), "NEW")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = c.GetHMA(context.Background(), "DOWN")
	assert.True(t, common.IsTransient(err))
}

type hmaServer interface {
	GetHMA(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type fixedServer struct{}

func (fixedServer) GetHMA(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	switch in.GetFields()["symbol"].GetStringValue() {
	case "A":
		return structpb.NewStruct(map[string]any{"value": 99.5})
	case "NEW":
		return nil, status.Error(codes.NotFound, "no candles")
	}
	return nil, status.Error(codes.Unavailable, "warming up")
}

var hmaServiceDesc = grpc.ServiceDesc{
	ServiceName: "hma.HMAService",
	HandlerType: (*hmaServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetHMA",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(hmaServer).GetHMA(ctx, in)
		},
	}},
}

func TestGRPCClient(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&hmaServiceDesc, fixedServer{})
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c, err := NewGRPCClient(Options{Addr: "passthrough:///bufnet", Period: 55, Timeframe: 5 * time.Minute, Timeout: time.Second},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer c.Close()

	v, err := c.GetHMA(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 99.5, v)

	_, err = c.GetHMA(context.Background(), "NEW")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = c.GetHMA(context.Background(), "B")
	assert.True(t, common.IsTransient(err))
}

func TestLocalClientFromTicks(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	clk := clock.NewManual(base)
	c := NewLocalClient(4, 5*time.Minute, clk)

	_, err := c.GetHMA(context.Background(), "A")
	assert.ErrorIs(t, err, ErrNotReady)

	// Five flat candles satisfy the warm-up of period 4.
	for i := 0; i < 5; i++ {
		c.OnTick(model.Tick{Symbol: "A", LTP: 100, Timestamp: base.Add(time.Duration(i)*5*time.Minute + time.Second)})
	}
	clk.Set(base.Add(25*time.Minute + 2*time.Second))
	v, err := c.GetHMA(context.Background(), "A")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v, 1e-9)
}
