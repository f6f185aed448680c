package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, lis *bufconn.Listener) grpc_health_v1.HealthClient {
	t.Helper()
	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func TestHealthFollowsProbes(t *testing.T) {
	s := NewServer(Config{})
	redisUp := true
	s.AddProbe("redis", func(context.Context) error {
		if redisUp {
			return nil
		}
		return errors.New("connection refused")
	})
	s.AddProbe("database", func(context.Context) error { return nil })

	lis := bufconn.Listen(1 << 20)
	// serve without the probe loop so statuses change only through CheckOnce
	go func() { _ = s.grpc.Serve(lis) }()
	t.Cleanup(func() { s.grpc.Stop() })

	client := dial(t, lis)
	ctx := context.Background()

	assert.True(t, s.CheckOnce(ctx))
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	redisUp = false
	assert.False(t, s.CheckOnce(ctx))
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "database"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}
