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

	"cutting-erp/internal/storage"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_PublishIssued(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, source: "cutting"}
	issuedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	err := p.PublishIssued(context.Background(), storage.IssuanceEntry{
		IssueNo:       "abc",
		RequisitionID: 42,
		PieceIDs:      []int64{1, 2},
		TotalCost:     decimal.RequireFromString("10.5"),
		IssuedAt:      issuedAt,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, issuedAt, msg.Time)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, TypeMaterialIssued, ev.Type)
	assert.Equal(t, "cutting", ev.Source)
	assert.Equal(t, "abc", ev.Data.IssueNo)
	assert.True(t, decimal.RequireFromString("10.5").Equal(ev.Data.TotalCost))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("no brokers")}}

	err := p.PublishIssued(context.Background(), storage.IssuanceEntry{RequisitionID: 1})
	assert.ErrorContains(t, err, "no brokers")
}
