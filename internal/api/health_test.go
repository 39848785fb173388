package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/floatbase/internal/fusion"
)

func startHealth(t *testing.T) (*Health, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	h := NewHealth()
	srv := NewGRPCServer(h)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("grpc server did not stop")
		}
	})
	return h, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsFusionState(t *testing.T) {
	h, client := startHealth(t)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, HealthService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	h.SetState(fusion.StateFaultDetected)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, HealthService))

	h.SetState(fusion.StateRecovering)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, HealthService))
	assert.Equal(t, fusion.StateRecovering, h.State())

	h.SetState(fusion.StateNominal)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, HealthService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}

func TestHealthShutdown(t *testing.T) {
	h := NewHealth()
	h.Shutdown()
	ctx := context.Background()
	resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	h.SetState(fusion.StateFaultDetected)
	h.SetState(fusion.StateNominal)
	resp, err = h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
