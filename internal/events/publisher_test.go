package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return r.id, r.err }

type fakePublisher struct {
	msgs []*gcppubsub.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{id: "msg-1", err: f.err}
}

func settledOrder() *models.Order {
	person := 1
	return &models.Order{
		ID:              uuid.New(),
		TerminalID:      "till-2",
		Total:           decimal.RequireFromString("90.00"),
		DiscountPercent: decimal.RequireFromString("10"),
		PersonsCount:    2,
		Paid:            true,
		Items: []models.OrderItem{
			{LineID: "color-red", Kind: enums.LineItemKindColor, Name: "red", UnitPrice: decimal.NewFromInt(10), Quantity: 10},
		},
		Payments: []models.OrderPayment{
			{Method: enums.PaymentMethodCash, Amount: decimal.NewFromInt(45), Received: decimal.NewFromInt(50), Change: decimal.NewFromInt(5), PersonIndex: &person},
			{Method: enums.PaymentMethodQR, Amount: decimal.NewFromInt(45), Received: decimal.NewFromInt(45)},
		},
	}
}

func TestPublishOrderSettled(t *testing.T) {
	fake := &fakePublisher{}
	p := &Publisher{pub: fake, logg: logger.New(logger.Options{Output: io.Discard})}
	order := settledOrder()
	evt := NewOrderSettled(order, true, time.Date(2026, 3, 9, 10, 0, 0, 0, time.FixedZone("ICT", 7*3600)))

	require.NoError(t, p.PublishOrderSettled(context.Background(), evt))
	require.Len(t, fake.msgs, 1)

	msg := fake.msgs[0]
	assert.Equal(t, EventTypeOrderSettled, msg.Attributes["event_type"])
	assert.Equal(t, order.ID.String(), msg.Attributes["order_id"])
	assert.Equal(t, "2026-03-09T03:00:00Z", msg.Attributes["occurred_at"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "till-2", decoded["terminal_id"])
	assert.Equal(t, "90", decoded["total"])
	assert.Len(t, decoded["payments"], 2)
	assert.Equal(t, true, decoded["stock_complete"])
}

func TestPublishErrorsAreReturned(t *testing.T) {
	p := &Publisher{pub: &fakePublisher{err: errors.New("deadline exceeded")}}
	err := p.PublishOrderSettled(context.Background(), NewOrderSettled(settledOrder(), false, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EventTypeOrderSettled)
}

func TestDisabledPublisherDropsEvents(t *testing.T) {
	p := NewPublisher(nil, nil)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishOrderSettled(context.Background(), OrderSettled{}))

	var nilPub *Publisher
	assert.False(t, nilPub.Enabled())
}
