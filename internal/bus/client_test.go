package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/natsserver"
	"github.com/loqalabs/loqa-order/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "test", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
	var c *Client
	if c.Healthy() {
		t.Fatal("nil client must not be healthy")
	}
	c.Close()
}

func TestEnsureStreamCapturesOrderEvents(t *testing.T) {
	log := newLogger()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}

	client, err := Connect(context.Background(), cfg, "bus-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	for range 2 {
		if err := client.EnsureStream(protocol.StreamOrders, "order.>"); err != nil {
			t.Fatalf("EnsureStream: %v", err)
		}
	}
	if err := client.PublishJSON(protocol.SubjectOrderCommitted, protocol.OrderCommitted{OrderID: 7, Total: 30000}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := client.JetStream().StreamInfo(protocol.StreamOrders)
		if err != nil {
			t.Fatalf("stream info: %v", err)
		}
		if info.State.Msgs == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 retained message, got %d", info.State.Msgs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
