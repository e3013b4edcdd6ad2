package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/model"
)

// FeedService fans accepted-response events out over Redis PubSub.
type FeedService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewFeedService creates a new FeedService.
func NewFeedService(rdb *redis.Client, log zerolog.Logger) *FeedService {
	return &FeedService{
		rdb: rdb,
		log: log.With().Str("component", "feed_service").Logger(),
	}
}

// Publish announces event on the channel of its form.
func (s *FeedService) Publish(ctx context.Context, event *model.ResponseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.FormResponsesChannel(event.FormID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams the events of formID until ctx is done or the returned
// stop function is called. The channel is closed afterwards.
func (s *FeedService) Subscribe(ctx context.Context, formID string) (<-chan model.ResponseEvent, func() error, error) {
	channel := config.CacheKey.FormResponsesChannel(formID)
	pubsub := s.rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	events := make(chan model.ResponseEvent)
	go func() {
		defer close(events)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ResponseEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.log.Warn().Err(err).Str("channel", channel).Msg("Dropping malformed feed event")
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, pubsub.Close, nil
}
