package integration

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

// memSource — источник истории в памяти, реализующий все порты источника.
// Позволяет прогнать полный конвейер экспорта с настоящим архивом на диске,
// но без сети.
type memSource struct {
	chat   domain.Chat
	msgs   []domain.Message
	titles map[int]string

	// cutAfterID, если задан, обрывает пагинацию ошибкой после того, как
	// отданы все сообщения с ID не больше этого значения.
	cutAfterID int

	// content — байты, записываемые при скачивании вложения.
	content []byte

	// downloadHook, если задан, вызывается перед записью скачанного файла.
	downloadHook func(ctx context.Context) error

	mu        sync.Mutex
	downloads int
}

func (s *memSource) ResolveChat(_ context.Context, _ string) (domain.Chat, error) {
	return s.chat, nil
}

func (s *memSource) PageAfter(_ context.Context, afterID, limit int) ([]domain.Message, error) {
	var page []domain.Message
	for _, m := range s.msgs {
		if m.ID <= afterID {
			continue
		}
		if s.cutAfterID > 0 && m.ID > s.cutAfterID {
			if len(page) > 0 {
				break
			}
			return nil, fmt.Errorf("connection lost after message %d", s.cutAfterID)
		}
		page = append(page, m)
		if len(page) == limit {
			break
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	return page, nil
}

func (s *memSource) TopicTitle(_ context.Context, topicID int) (string, error) {
	title, ok := s.titles[topicID]
	if !ok {
		return "", fmt.Errorf("topic %d not found", topicID)
	}
	return title, nil
}

func (s *memSource) Download(ctx context.Context, _ domain.Attachment, path string) error {
	s.mu.Lock()
	s.downloads++
	s.mu.Unlock()
	if s.downloadHook != nil {
		if err := s.downloadHook(ctx); err != nil {
			return err
		}
	}
	return os.WriteFile(path, s.content, 0o644)
}
