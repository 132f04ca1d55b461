package telegram

import (
	"context"
	"fmt"
	"sort"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

// PageAfter возвращает страницу сообщений со строго возрастающими
// идентификаторами, большими afterID. Пустая страница означает конец истории.
func (s *Source) PageAfter(ctx context.Context, afterID, limit int) ([]domain.Message, error) {
	if s.peer == nil {
		return nil, fmt.Errorf("history source is not bound to a chat")
	}

	res, err := s.client.HistoryPage(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     s.peer,
		OffsetID: afterID,
		// Отрицательное смещение сдвигает окно к сообщениям новее OffsetID.
		AddOffset: -limit,
		Limit:     limit,
		MinID:     afterID,
	})
	if err != nil {
		if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED") {
			return nil, fmt.Errorf("read history: %w", ErrNotAuthorized)
		}
		return nil, fmt.Errorf("read history after id %d: %w", afterID, err)
	}

	raw, chats, users := unpackMessages(res)
	s.rememberUsers(users)
	s.rememberChats(chats)

	page := make([]domain.Message, 0, len(raw))
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			// Служебные сообщения (вступления, закрепы) в архив не попадают.
			continue
		}
		if msg.ID <= afterID {
			continue
		}
		page = append(page, s.ingest(msg))
	}

	// API отдает сообщения от новых к старым, архив пишется в хронологическом порядке.
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })

	s.log.DebugContext(ctx, "Fetched history page", "after_id", afterID, "messages", len(page))
	return page, nil
}

func unpackMessages(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.ChatClass, []tg.UserClass) {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages, m.Chats, m.Users
	case *tg.MessagesMessagesSlice:
		return m.Messages, m.Chats, m.Users
	case *tg.MessagesChannelMessages:
		return m.Messages, m.Chats, m.Users
	default:
		return nil, nil, nil
	}
}
