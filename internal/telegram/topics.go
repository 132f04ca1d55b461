package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// TopicTitle возвращает название темы форума по ее идентификатору.
func (s *Source) TopicTitle(ctx context.Context, topicID int) (string, error) {
	if s.channel == nil {
		return "", fmt.Errorf("chat is not a forum channel, topic %d cannot be resolved", topicID)
	}

	res, err := s.client.ForumTopicsByID(ctx, s.channel, []int{topicID})
	if err != nil {
		if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED") {
			return "", fmt.Errorf("get topic %d: %w", topicID, ErrNotAuthorized)
		}
		return "", fmt.Errorf("get topic %d: %w", topicID, err)
	}

	for _, t := range res.Topics {
		if topic, ok := t.(*tg.ForumTopic); ok && topic.ID == topicID {
			return topic.Title, nil
		}
	}

	return "", fmt.Errorf("topic %d not found or deleted", topicID)
}
