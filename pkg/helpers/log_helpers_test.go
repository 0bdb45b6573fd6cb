package helpers

import (
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topic    string
	messages []*message.Message
}

func (c *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	c.topic = topic
	c.messages = append(c.messages, messages...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestCorrelationPublisherDecorator(t *testing.T) {
	inner := &capturePublisher{}
	pub := CorrelationPublisherDecorator{Publisher: inner}

	fromCtx := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	fromCtx.SetContext(ContextWithCorrelationID(context.Background(), "turn-1"))

	preset := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	preset.Metadata.Set(CorrelationIDMetadataKey, "keep-me")

	generated := message.NewMessage(watermill.NewUUID(), []byte(`{}`))

	require.NoError(t, pub.Publish("grillo.turn", fromCtx, preset, generated))
	require.Equal(t, "grillo.turn", inner.topic)
	require.Equal(t, "turn-1", inner.messages[0].Metadata.Get(CorrelationIDMetadataKey))
	require.Equal(t, "keep-me", inner.messages[1].Metadata.Get(CorrelationIDMetadataKey))
	require.True(t, strings.HasPrefix(inner.messages[2].Metadata.Get(CorrelationIDMetadataKey), "gen_"))
}
