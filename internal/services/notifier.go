package services

import (
	"context"
	"log/slog"
)

const defaultNotifierQueueSize = 256

// RecommendationEvent tells the recommendation service that a user's
// inputs changed.
type RecommendationEvent struct {
	UserID      int      `json:"user_id"`
	City        string   `json:"city"`
	Preferences []string `json:"preferences"`
}

// Publisher is satisfied by *mq.MQ.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any) (string, error)
}

// RecommendationNotifier hands events to a single background worker that
// publishes them. Notify never blocks; when the queue is full the event is
// dropped and logged.
type RecommendationNotifier struct {
	publisher Publisher
	topic     string
	queue     chan RecommendationEvent
	done      chan struct{}
	logger    *slog.Logger
}

func NewRecommendationNotifier(publisher Publisher, topic string, queueSize int, logger *slog.Logger) *RecommendationNotifier {
	if queueSize <= 0 {
		queueSize = defaultNotifierQueueSize
	}
	return &RecommendationNotifier{
		publisher: publisher,
		topic:     topic,
		queue:     make(chan RecommendationEvent, queueSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

func (n *RecommendationNotifier) Notify(userID int, city string, preferences []string) {
	event := RecommendationEvent{
		UserID:      userID,
		City:        city,
		Preferences: append([]string{}, preferences...),
	}
	select {
	case n.queue <- event:
	default:
		n.logger.Warn("recommendation queue full, dropping event", "user_id", userID)
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// still queued and returns.
func (n *RecommendationNotifier) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case event := <-n.queue:
			n.publish(ctx, event)
		case <-ctx.Done():
			n.flush()
			return
		}
	}
}

// Done is closed once Run has returned.
func (n *RecommendationNotifier) Done() <-chan struct{} {
	return n.done
}

func (n *RecommendationNotifier) flush() {
	ctx := context.Background()
	for {
		select {
		case event := <-n.queue:
			n.publish(ctx, event)
		default:
			return
		}
	}
}

func (n *RecommendationNotifier) publish(ctx context.Context, event RecommendationEvent) {
	id, err := n.publisher.PublishJSON(ctx, n.topic, event)
	if err != nil {
		n.logger.ErrorContext(ctx, "recommendation publish failed", "user_id", event.UserID, "error", err)
		return
	}
	n.logger.DebugContext(ctx, "recommendation published", "user_id", event.UserID, "message_id", id)
}
