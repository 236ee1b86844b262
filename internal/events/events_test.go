package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPaymentSucceededMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := p.PaymentSucceeded(context.Background(), PaymentSucceeded{
		OrderID:       12,
		CustomerID:    3,
		TransactionID: "PAG_12_20260301_090000",
		Amount:        decimal.RequireFromString("99.90"),
		Currency:      "USD",
		ArtworkIDs:    []int64{4, 5},
		OccurredAt:    at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "12", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, TypePaymentSucceeded, string(msg.Headers[0].Value))

	var got PaymentSucceeded
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, TypePaymentSucceeded, got.Type)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, string(msg.Headers[1].Value), got.ID)
	assert.True(t, decimal.RequireFromString("99.9").Equal(got.Amount))
	assert.Equal(t, []int64{4, 5}, got.ArtworkIDs)
}

func TestPaymentSucceededWrapsWriterError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}}
	err := p.PaymentSucceeded(context.Background(), PaymentSucceeded{OrderID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order 1")
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, (&KafkaPublisher{writer: w}).Close())
	assert.True(t, w.closed)
	assert.NoError(t, NopPublisher{}.Close())
}
