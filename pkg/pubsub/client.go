package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub settlement topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client owns the Pub/Sub connection and the single settlement publisher
// the API process writes to.
type Client struct {
	client    *pubsub.Client
	projectID string
	topic     string

	once       sync.Once
	settlement *pubsub.Publisher
}

// NewClient connects to Pub/Sub and refuses to start when the settlement
// topic is missing, so a misnamed topic fails at boot instead of per order.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.SettlementTopic) == "" {
		return nil, errNoTopic
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: gcp.ProjectID}
	c.topic = c.topicResourceName(cfg.SettlementTopic)

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", c.topic), "pubsub client initialized")
	}
	return c, nil
}

// SettlementPublisher returns the shared publisher for order.settled events.
func (c *Client) SettlementPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil || c.topic == "" {
		return nil
	}
	c.once.Do(func() {
		c.settlement = c.client.Publisher(c.topic)
	})
	return c.settlement
}

// Ping checks the settlement topic is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if c.topic == "" {
		return errNoTopic
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	default:
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
}

// Close flushes pending settlement messages before dropping the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.settlement != nil {
		c.settlement.Stop()
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	if p := strings.TrimSpace(c.projectID); p != "" {
		return fmt.Sprintf("projects/%s/topics/%s", p, n)
	}
	return ""
}
