package pubsub

import (
	"context"
	"errors"
	"testing"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "pos-prod"}

	cases := map[string]string{
		"":                                    "",
		"  ":                                  "",
		"order-settled":                       "projects/pos-prod/topics/order-settled",
		"projects/other/topics/order-settled": "projects/other/topics/order-settled",
	}
	for in, want := range cases {
		if got := c.topicResourceName(in); got != want {
			t.Fatalf("topicResourceName(%q) = %q, want %q", in, got, want)
		}
	}

	if got := (&Client{}).topicResourceName("order-settled"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.SettlementPublisher() != nil {
		t.Fatal("expected nil publisher from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
