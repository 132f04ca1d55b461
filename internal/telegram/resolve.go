package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

// maxDialogPages ограничивает обход списка диалогов при поиске чата по
// числовому идентификатору.
const maxDialogPages = 50

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// ResolveChat находит чат по числовому идентификатору или имени пользователя
// и привязывает источник к нему. Числовой идентификатор ищется среди диалогов
// аккаунта, имя пользователя разрешается через contacts.resolveUsername.
func (s *Source) ResolveChat(ctx context.Context, ref string) (domain.Chat, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Chat{}, fmt.Errorf("empty chat reference: %w", ErrBadChatReference)
	}

	if id, ok := parseChatID(ref); ok {
		s.log.InfoContext(ctx, "Resolving chat by numeric id", "chat_id", id)
		return s.resolveByID(ctx, id)
	}

	username := normalizeUsername(ref)
	if !usernameRegex.MatchString(username) {
		return domain.Chat{}, fmt.Errorf("reference %q: %w", ref, ErrBadChatReference)
	}

	s.log.InfoContext(ctx, "Resolving chat by username", "username", username)
	return s.resolveByUsername(ctx, username)
}

// parseChatID интерпретирует ссылку как числовой идентификатор.
// Префикс -100 у каналов и знак минус у групп отбрасываются: поиск по
// диалогам идет по внутреннему идентификатору.
func parseChatID(ref string) (int64, bool) {
	raw := ref
	if strings.HasPrefix(raw, "-100") && len(raw) > 4 {
		raw = raw[4:]
	} else {
		raw = strings.TrimPrefix(raw, "-")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// normalizeUsername убирает префикс @ и ссылочную форму t.me/.
func normalizeUsername(ref string) string {
	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "t.me/")
	return strings.TrimPrefix(ref, "@")
}

func (s *Source) resolveByUsername(ctx context.Context, username string) (domain.Chat, error) {
	resolved, err := s.client.ResolveUsername(ctx, username)
	if err != nil {
		switch {
		case tgerr.Is(err, "USERNAME_NOT_OCCUPIED"):
			return domain.Chat{}, fmt.Errorf("username %q: %w", username, ErrChatNotFound)
		case tgerr.Is(err, "USERNAME_INVALID"):
			return domain.Chat{}, fmt.Errorf("username %q: %w", username, ErrBadChatReference)
		case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED"):
			return domain.Chat{}, fmt.Errorf("resolve username %q: %w", username, ErrNotAuthorized)
		}
		return domain.Chat{}, fmt.Errorf("resolve username %q: %w", username, err)
	}

	switch peer := resolved.Peer.(type) {
	case *tg.PeerChannel:
		for _, c := range resolved.Chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == peer.ChannelID {
				return s.bindChannel(ch), nil
			}
		}
	case *tg.PeerChat:
		for _, c := range resolved.Chats {
			if ch, ok := c.(*tg.Chat); ok && ch.ID == peer.ChatID {
				return s.bindChat(ch), nil
			}
		}
	case *tg.PeerUser:
		for _, u := range resolved.Users {
			if usr, ok := u.(*tg.User); ok && usr.ID == peer.UserID {
				return s.bindUser(usr), nil
			}
		}
	}

	return domain.Chat{}, fmt.Errorf("username %q resolved to an unusable peer: %w", username, ErrChatNotFound)
}

// resolveByID ищет чат по идентификатору, перебирая диалоги аккаунта
// страницами, пока чат не найдется или диалоги не закончатся.
func (s *Source) resolveByID(ctx context.Context, id int64) (domain.Chat, error) {
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	}

	for page := 0; page < maxDialogPages; page++ {
		res, err := s.client.DialogsPage(ctx, req)
		if err != nil {
			if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED") {
				return domain.Chat{}, fmt.Errorf("list dialogs: %w", ErrNotAuthorized)
			}
			return domain.Chat{}, fmt.Errorf("list dialogs: %w", err)
		}

		dialogs, messages, chats, users, complete := unpackDialogs(res)
		if chat, ok := s.matchDialogPeer(id, chats, users); ok {
			return chat, nil
		}
		if complete || len(dialogs) == 0 {
			break
		}

		next, ok := nextDialogsOffset(dialogs, messages, chats, users)
		if !ok {
			break
		}
		req.OffsetDate = next.date
		req.OffsetID = next.id
		req.OffsetPeer = next.peer
	}

	return domain.Chat{}, fmt.Errorf("chat id %d is not among account dialogs: %w", id, ErrChatNotFound)
}

func (s *Source) matchDialogPeer(id int64, chats []tg.ChatClass, users []tg.UserClass) (domain.Chat, bool) {
	for _, c := range chats {
		switch ch := c.(type) {
		case *tg.Channel:
			if ch.ID == id {
				return s.bindChannel(ch), true
			}
		case *tg.Chat:
			if ch.ID == id {
				return s.bindChat(ch), true
			}
		}
	}
	for _, u := range users {
		if usr, ok := u.(*tg.User); ok && usr.ID == id {
			return s.bindUser(usr), true
		}
	}
	return domain.Chat{}, false
}

func (s *Source) bindChannel(ch *tg.Channel) domain.Chat {
	s.peer = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	s.channel = &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	s.rememberChat(ch.ID, ch.Title)
	return domain.Chat{
		ID:        ch.ID,
		Title:     ch.Title,
		Forum:     ch.Forum,
		Protected: ch.Noforwards,
	}
}

func (s *Source) bindChat(ch *tg.Chat) domain.Chat {
	s.peer = &tg.InputPeerChat{ChatID: ch.ID}
	s.rememberChat(ch.ID, ch.Title)
	return domain.Chat{
		ID:        ch.ID,
		Title:     ch.Title,
		Protected: ch.Noforwards,
	}
}

func (s *Source) bindUser(u *tg.User) domain.Chat {
	s.peer = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
	s.rememberUser(u)
	return domain.Chat{
		ID:    u.ID,
		Title: displayName(u),
	}
}

// dialogsOffset описывает курсор для следующей страницы диалогов.
type dialogsOffset struct {
	date int
	id   int
	peer tg.InputPeerClass
}

func unpackDialogs(res tg.MessagesDialogsClass) (dialogs []tg.DialogClass, messages []tg.MessageClass, chats []tg.ChatClass, users []tg.UserClass, complete bool) {
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		return d.Dialogs, d.Messages, d.Chats, d.Users, true
	case *tg.MessagesDialogsSlice:
		return d.Dialogs, d.Messages, d.Chats, d.Users, len(d.Dialogs) == 0
	default:
		return nil, nil, nil, nil, true
	}
}

// nextDialogsOffset строит курсор пагинации из последнего диалога страницы.
func nextDialogsOffset(dialogs []tg.DialogClass, messages []tg.MessageClass, chats []tg.ChatClass, users []tg.UserClass) (dialogsOffset, bool) {
	last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
	if !ok {
		return dialogsOffset{}, false
	}

	peer := inputPeerFor(last.Peer, chats, users)
	if peer == nil {
		return dialogsOffset{}, false
	}

	off := dialogsOffset{id: last.TopMessage, peer: peer}
	for _, m := range messages {
		msg, ok := m.(*tg.Message)
		if !ok || msg.ID != last.TopMessage {
			continue
		}
		if samePeer(msg.PeerID, last.Peer) {
			off.date = msg.Date
			break
		}
	}
	return off, true
}

func samePeer(a, b tg.PeerClass) bool {
	switch ap := a.(type) {
	case *tg.PeerChannel:
		bp, ok := b.(*tg.PeerChannel)
		return ok && ap.ChannelID == bp.ChannelID
	case *tg.PeerChat:
		bp, ok := b.(*tg.PeerChat)
		return ok && ap.ChatID == bp.ChatID
	case *tg.PeerUser:
		bp, ok := b.(*tg.PeerUser)
		return ok && ap.UserID == bp.UserID
	}
	return false
}

// inputPeerFor находит входной пир с access hash для пира из ответа API.
func inputPeerFor(peer tg.PeerClass, chats []tg.ChatClass, users []tg.UserClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		for _, c := range chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == p.ChannelID {
				return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerUser:
		for _, u := range users {
			if usr, ok := u.(*tg.User); ok && usr.ID == p.UserID {
				return &tg.InputPeerUser{UserID: usr.ID, AccessHash: usr.AccessHash}
			}
		}
	}
	return nil
}
