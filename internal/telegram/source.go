package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gotd/td/tg"
)

var (
	// ErrBadChatReference возвращается, когда переданная ссылка на чат не
	// является ни числовым идентификатором, ни корректным именем пользователя.
	ErrBadChatReference = errors.New("chat reference is not a numeric id or a valid username")
	// ErrChatNotFound возвращается, когда чат не найден среди диалогов
	// аккаунта или по имени пользователя.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotAuthorized возвращается, когда сессия недействительна и запросы
	// к API отклоняются.
	ErrNotAuthorized = errors.New("telegram session is not authorized")
)

// clientAPI определяет методы клиента, необходимые источнику.
// Это позволяет создавать моки в тестах.
type clientAPI interface {
	ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error)
	DialogsPage(ctx context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	HistoryPage(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	ForumTopicsByID(ctx context.Context, channel *tg.InputChannel, topicIDs []int) (*tg.MessagesForumTopics, error)
	DownloadTo(ctx context.Context, loc tg.InputFileLocationClass, path string) error
}

// Source читает историю чата через Telegram API и отдает страницы сообщений
// в доменном представлении. Один экземпляр привязывается к одному чату
// вызовом ResolveChat.
//
// PageAfter и TopicTitle вызываются из одной горутины пагинации;
// Download может вызываться конкурентно из воркеров загрузки.
type Source struct {
	client clientAPI
	log    *slog.Logger

	peer    tg.InputPeerClass
	channel *tg.InputChannel

	// Имена отправителей накапливаются из ответов API по мере чтения истории.
	users map[int64]string
	chats map[int64]string
}

// SourceOption определяет функциональную опцию для конфигурации источника.
type SourceOption func(*Source)

// WithSourceLogger устанавливает логгер для источника.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSource создает новый источник истории поверх клиента.
func NewSource(client clientAPI, opts ...SourceOption) *Source {
	s := &Source{
		client: client,
		log:    slog.Default(),
		users:  make(map[int64]string),
		chats:  make(map[int64]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
