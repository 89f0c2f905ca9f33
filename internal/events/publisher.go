package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

const (
	EventTypeOrderSettled = "order.settled"
	defaultPublishTimeout = 5 * time.Second
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// SettledItem is one sold line in the order.settled payload.
type SettledItem struct {
	LineID    string          `json:"line_id"`
	Kind      string          `json:"kind"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// SettledPayment is one recorded payment in the order.settled payload.
type SettledPayment struct {
	Method   string          `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	Received decimal.Decimal `json:"received"`
	Change   decimal.Decimal `json:"change"`
	Person   *int            `json:"person,omitempty"`
}

// OrderSettled is published once an order is paid and reconciled.
type OrderSettled struct {
	EventID         string           `json:"event_id"`
	OccurredAt      time.Time        `json:"occurred_at"`
	OrderID         uuid.UUID        `json:"order_id"`
	TerminalID      string           `json:"terminal_id"`
	Total           decimal.Decimal  `json:"total"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	PersonsCount    int              `json:"persons_count"`
	Items           []SettledItem    `json:"items"`
	Payments        []SettledPayment `json:"payments"`
	StockComplete   bool             `json:"stock_complete"`
}

// NewOrderSettled builds the event payload for a paid order.
func NewOrderSettled(order *models.Order, stockComplete bool, now time.Time) OrderSettled {
	evt := OrderSettled{
		EventID:         uuid.NewString(),
		OccurredAt:      now.UTC(),
		OrderID:         order.ID,
		TerminalID:      order.TerminalID,
		Total:           order.Total,
		DiscountPercent: order.DiscountPercent,
		PersonsCount:    order.PersonsCount,
		StockComplete:   stockComplete,
	}
	for _, item := range order.Items {
		evt.Items = append(evt.Items, SettledItem{
			LineID:    item.LineID,
			Kind:      item.Kind.String(),
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	for _, p := range order.Payments {
		evt.Payments = append(evt.Payments, SettledPayment{
			Method:   p.Method.String(),
			Amount:   p.Amount,
			Received: p.Received,
			Change:   p.Change,
			Person:   p.PersonIndex,
		})
	}
	return evt
}

// Publisher emits settlement events. A Publisher without a topic drops events.
type Publisher struct {
	pub  publisher
	logg *logger.Logger
}

// NewPublisher wraps a Pub/Sub publisher. p may be nil to disable publishing.
func NewPublisher(p *gcppubsub.Publisher, logg *logger.Logger) *Publisher {
	return &Publisher{pub: newGCPPublisher(p), logg: logg}
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool {
	return p != nil && p.pub != nil
}

// PublishOrderSettled sends evt and waits for the server ack.
func (p *Publisher) PublishOrderSettled(ctx context.Context, evt OrderSettled) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventTypeOrderSettled, err)
	}
	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_id":    evt.EventID,
			"event_type":  EventTypeOrderSettled,
			"order_id":    evt.OrderID.String(),
			"terminal_id": evt.TerminalID,
			"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := p.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", EventTypeOrderSettled, err)
	}
	if p.logg != nil {
		p.logg.Info(p.logg.WithFields(ctx, map[string]any{
			"event_id":   evt.EventID,
			"message_id": serverID,
		}), "events.order_settled_published")
	}
	return nil
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
