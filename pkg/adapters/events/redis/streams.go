package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/aescanero/dago-probe/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// streamMaxLen caps each stream; older entries are trimmed approximately
const streamMaxLen = 10000

// StreamsEventBus implements EventBus using Redis Streams.
// Each subscriber group maps to a consumer group on the topic stream.
type StreamsEventBus struct {
	client       *redis.Client
	logger       *zap.Logger
	groupPrefix  string
	consumerName string
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, groupPrefix, consumerName string, logger *zap.Logger) *StreamsEventBus {
	return &StreamsEventBus{
		client:       client,
		logger:       logger,
		groupPrefix:  groupPrefix,
		consumerName: consumerName,
	}
}

// Publish appends an event to the topic stream
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe reads new events for the group until ctx is cancelled
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic, group string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)
	groupName := e.groupPrefix + "." + group

	err := e.client.XGroupCreateMkStream(ctx, streamKey, groupName, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", groupName),
		zap.String("consumer", e.consumerName))

	go e.readStream(ctx, streamKey, groupName, handler)

	return nil
}

// DestroyGroup removes a consumer group, used for short-lived subscribers
func (e *StreamsEventBus) DestroyGroup(ctx context.Context, topic, group string) error {
	return e.client.XGroupDestroy(ctx, getStreamKey(topic), e.groupPrefix+"."+group).Err()
}

// Close is a no-op; the Redis client is owned by the caller
func (e *StreamsEventBus) Close() error {
	return nil
}

// readStream reads events from a stream
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, groupName string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    groupName,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, groupName, message, handler)
			}
		}
	}
}

// processMessage decodes, handles and acknowledges a single message
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey, groupName string, message redis.XMessage, handler ports.EventHandler) {
	defer func() {
		if err := e.client.XAck(ctx, streamKey, groupName, message.ID).Err(); err != nil {
			e.logger.Warn("failed to ack message",
				zap.String("stream", streamKey),
				zap.String("message_id", message.ID),
				zap.Error(err))
		}
	}()

	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("dago-probe:stream:%s", topic)
}
