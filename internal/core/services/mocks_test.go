package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/ports"
)

// mockResolver - мок-реализация ports.ChatResolver для тестирования
type mockResolver struct {
	ResolveChatFunc func(ctx context.Context, ref string) (domain.Chat, error)
}

func (m *mockResolver) ResolveChat(ctx context.Context, ref string) (domain.Chat, error) {
	if m.ResolveChatFunc != nil {
		return m.ResolveChatFunc(ctx, ref)
	}
	return domain.Chat{ID: 1, Title: "Chat"}, nil
}

// mockSource отдает страницы из подготовленного списка сообщений,
// имитируя пагинацию платформы.
type mockSource struct {
	msgs []domain.Message

	mu       sync.Mutex
	calls    int
	failures int
	failErr  error
}

func (m *mockSource) PageAfter(_ context.Context, afterID, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failures > 0 {
		m.failures--
		return nil, m.failErr
	}

	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.ID <= afterID {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// mockTopics - мок-реализация ports.TopicDirectory для тестирования
type mockTopics struct {
	TopicTitleFunc func(ctx context.Context, topicID int) (string, error)

	mu    sync.Mutex
	calls map[int]int
}

func (m *mockTopics) TopicTitle(ctx context.Context, topicID int) (string, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[int]int)
	}
	m.calls[topicID]++
	m.mu.Unlock()

	if m.TopicTitleFunc != nil {
		return m.TopicTitleFunc(ctx, topicID)
	}
	return fmt.Sprintf("Topic %d", topicID), nil
}

func (m *mockTopics) lookups(topicID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[topicID]
}

// mockFetcher - мок-реализация ports.MediaFetcher для тестирования
type mockFetcher struct {
	DownloadFunc func(ctx context.Context, att domain.Attachment, path string) error

	mu    sync.Mutex
	calls int
}

func (m *mockFetcher) Download(ctx context.Context, att domain.Attachment, path string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, att, path)
	}
	return nil
}

func (m *mockFetcher) downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeArchive - архив в памяти, повторяющий контракт ports.Archive:
// строки на место назначения, позиции возобновления и размещенные медиа.
type fakeArchive struct {
	mu     sync.Mutex
	lines  map[string][]string
	media  []string
	resume map[string]int
	topics map[int]ports.TopicInfo

	appendErr error
	closed    bool
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		lines:  make(map[string][]string),
		resume: make(map[string]int),
		topics: make(map[int]ports.TopicInfo),
	}
}

func (a *fakeArchive) AppendMessage(dest domain.Destination, msg domain.Message, topicLabel string) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines[dest.Folder] = append(a.lines[dest.Folder], fmt.Sprintf("#%d <%s> %s", msg.ID, msg.Sender, msg.Text))
	return nil
}

func (a *fakeArchive) AppendMediaNote(dest domain.Destination, msg domain.Message, topicLabel, note string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines[dest.Folder] = append(a.lines[dest.Folder], fmt.Sprintf("#%d [MEDIA: %s]", msg.ID, note))
	return nil
}

func (a *fakeArchive) PlaceMedia(ctx context.Context, dest domain.Destination, msg domain.Message, write func(ctx context.Context, path string) error) (string, error) {
	name := fmt.Sprintf("msg_%d.bin", msg.ID)
	if err := write(ctx, name); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.media = append(a.media, name)
	return name, nil
}

func (a *fakeArchive) ResumeID(dest domain.Destination) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resume[dest.Folder]
}

func (a *fakeArchive) Topics() map[int]ports.TopicInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]ports.TopicInfo, len(a.topics))
	for id, info := range a.topics {
		out[id] = info
	}
	return out
}

func (a *fakeArchive) Dir() string { return "fake" }

func (a *fakeArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeArchive) destLines(folder string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lines[folder]...)
}

func (a *fakeArchive) placedMedia() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.media...)
}
