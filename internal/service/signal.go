package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/montage-studio/montage"
)

// SignalService fans committed events out through redis so that every node
// in the cluster observes every project's activity. The firehose socket is
// served from these channels.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, channel string, event montage.Event) error {
	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// OperationCommitted publishes each committed delta on the project's
// signal channel. Implements the resolver commit hook.
func (s *SignalService) OperationCommitted(op montage.Operation, delta montage.Delta, sessionID string) {
	body, err := json.Marshal(delta)
	if err != nil {
		log.Error().Err(err).Str("op_id", op.ID).Msg("marshalling delta event")
		return
	}
	event := montage.Event{
		Type:      montage.EventTypeDelta,
		ProjectID: op.ProjectID,
		Revision:  delta.Revision,
		Body:      body,
		Timestamp: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Publish(ctx, montage.SignalChannel(op.ProjectID), event); err != nil {
		log.Error().Err(err).Str("project_id", op.ProjectID).Msg("publishing delta event")
	}
}

// PublishChat mirrors a chat message onto the project's signal channel.
func (s *SignalService) PublishChat(ctx context.Context, msg montage.ChatMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	event := montage.Event{
		Type:      montage.EventTypeChat,
		ProjectID: msg.ProjectID,
		Body:      body,
		Timestamp: time.Now(),
	}
	if err := s.Publish(ctx, montage.SignalChannel(msg.ProjectID), event); err != nil {
		log.Error().Err(err).Str("project_id", msg.ProjectID).Msg("publishing chat event")
	}
}

// Realtime streams events for a dynamic set of project channels. The
// request channel carries the full desired channel list; sending a new
// list replaces the previous subscription. Returns when ctx is cancelled.
func (s *SignalService) Realtime(ctx context.Context, request <-chan []string, emit chan<- montage.Event) {
	pubsub := s.rdb.Subscribe(ctx)
	defer pubsub.Close()

	subscribed := make(map[string]bool)
	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case channels, ok := <-request:
			if !ok {
				return
			}
			desired := make(map[string]bool, len(channels))
			for _, ch := range channels {
				desired[ch] = true
			}
			var add, remove []string
			for ch := range desired {
				if !subscribed[ch] {
					add = append(add, ch)
				}
			}
			for ch := range subscribed {
				if !desired[ch] {
					remove = append(remove, ch)
				}
			}
			if len(add) > 0 {
				if err := pubsub.Subscribe(ctx, add...); err != nil {
					log.Error().Err(err).Strs("channels", add).Msg("realtime subscribe failed")
					continue
				}
			}
			if len(remove) > 0 {
				if err := pubsub.Unsubscribe(ctx, remove...); err != nil {
					log.Error().Err(err).Strs("channels", remove).Msg("realtime unsubscribe failed")
				}
			}
			subscribed = desired

		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event montage.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed signal event")
				continue
			}
			select {
			case emit <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
