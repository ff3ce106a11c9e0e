package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{Subject: "x"}
	c := (*headerCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Fatalf("empty carrier Get = %q", got)
	}
	if keys := c.Keys(); keys != nil {
		t.Fatalf("empty carrier Keys = %v", keys)
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Fatalf("Keys = %v", keys)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("Set did not write through to the message header")
	}
}

func TestPublishMarshalError(t *testing.T) {
	// Channels are not JSON-serializable; Publish must fail before
	// touching the connection.
	err := Publish(context.Background(), nil, "subject", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error")
	}
}
