//go:build integration

package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestNATS_PubSub(t *testing.T) {
	nc := connectNATS(t)

	type msg struct {
		Text string `json:"text"`
	}

	ch := make(chan msg, 1)
	sub, err := Subscribe(nc, "integ.pubsub", func(ctx context.Context, m msg) {
		ch <- m
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "integ.pubsub", msg{Text: "hola"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Text != "hola" {
			t.Fatalf("expected 'hola', got %q", got.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNATS_QueueGroupSingleDelivery(t *testing.T) {
	nc := connectNATS(t)

	type job struct{ N int }

	ch := make(chan job, 4)
	for i := 0; i < 2; i++ {
		sub, err := QueueSubscribe(nc, "integ.queue", "workers", func(ctx context.Context, j job) {
			ch <- j
		})
		if err != nil {
			t.Fatalf("QueueSubscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	if err := Publish(context.Background(), nc, "integ.queue", job{N: 7}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.N != 7 {
			t.Fatalf("expected 7, got %d", got.N)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	// Queue groups deliver each message to exactly one member.
	select {
	case extra := <-ch:
		t.Fatalf("duplicate delivery: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}
