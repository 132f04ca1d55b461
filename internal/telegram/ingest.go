package telegram

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

const unknownSender = "Unknown"

// ingest переводит сообщение API в доменное представление.
func (s *Source) ingest(msg *tg.Message) domain.Message {
	return domain.Message{
		ID:      msg.ID,
		Date:    time.Unix(int64(msg.Date), 0),
		Sender:  s.senderName(msg),
		Text:    msg.Message,
		TopicID: topicID(msg),
		Media:   attachmentFrom(msg.Media),
	}
}

func (s *Source) senderName(msg *tg.Message) string {
	switch from := msg.FromID.(type) {
	case *tg.PeerUser:
		if name, ok := s.users[from.UserID]; ok {
			return name
		}
	case *tg.PeerChannel:
		if name, ok := s.chats[from.ChannelID]; ok {
			return name
		}
	case *tg.PeerChat:
		if name, ok := s.chats[from.ChatID]; ok {
			return name
		}
	case nil:
		// Посты каналов приходят без отправителя: автором считается сам чат.
		if p, ok := msg.PeerID.(*tg.PeerChannel); ok {
			if name, ok := s.chats[p.ChannelID]; ok {
				return name
			}
		}
	}
	return unknownSender
}

// topicID извлекает идентификатор темы форума из заголовка ответа.
// Для сообщений вне форумных тем возвращается ноль.
func topicID(msg *tg.Message) int {
	header, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok || !header.ForumTopic {
		return 0
	}
	// У ответов внутри темы идентификатор темы лежит в TopID,
	// у прямых сообщений в теме — в ReplyToMsgID.
	if header.ReplyToTopID != 0 {
		return header.ReplyToTopID
	}
	return header.ReplyToMsgID
}

// attachmentFrom строит дескриптор вложения. Скачиваемыми считаются только
// фотографии и документы; остальные виды медиа (веб-превью, геометки,
// опросы) вложением не являются.
func attachmentFrom(media tg.MessageMediaClass) domain.Attachment {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		if photo, ok := m.Photo.(*tg.Photo); ok {
			return photoAttachment(photo)
		}
	case *tg.MessageMediaDocument:
		if doc, ok := m.Document.(*tg.Document); ok {
			return documentAttachment(doc)
		}
	}
	return domain.Attachment{}
}

func photoAttachment(photo *tg.Photo) domain.Attachment {
	size, thumb := largestPhotoSize(photo.Sizes)
	return domain.Attachment{
		Kind: domain.MediaImage,
		Size: size,
		Ref: &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		},
	}
}

// largestPhotoSize выбирает самый крупный вариант фотографии.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (int64, string) {
	var best int64
	var thumb string
	for _, s := range sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if int64(sz.Size) >= best {
				best = int64(sz.Size)
				thumb = sz.Type
			}
		case *tg.PhotoSizeProgressive:
			for _, n := range sz.Sizes {
				if int64(n) >= best {
					best = int64(n)
					thumb = sz.Type
				}
			}
		}
	}
	return best, thumb
}

func documentAttachment(doc *tg.Document) domain.Attachment {
	att := domain.Attachment{
		Kind:     documentKind(doc),
		Size:     doc.Size,
		MimeType: doc.MimeType,
		Ref: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}
	for _, a := range doc.Attributes {
		if fn, ok := a.(*tg.DocumentAttributeFilename); ok {
			att.Filename = fn.FileName
			break
		}
	}
	return att
}

// documentKind классифицирует документ по MIME-типу, а при его
// недостаточности — по атрибутам.
func documentKind(doc *tg.Document) domain.MediaKind {
	switch {
	case strings.HasPrefix(doc.MimeType, "image/"):
		return domain.MediaImage
	case strings.HasPrefix(doc.MimeType, "audio/"):
		return domain.MediaAudio
	case strings.HasPrefix(doc.MimeType, "video/"):
		return domain.MediaVideo
	}

	for _, a := range doc.Attributes {
		switch a.(type) {
		case *tg.DocumentAttributeAudio:
			return domain.MediaAudio
		case *tg.DocumentAttributeVideo:
			return domain.MediaVideo
		case *tg.DocumentAttributeImageSize:
			return domain.MediaImage
		}
	}
	return domain.MediaOther
}

func (s *Source) rememberUsers(users []tg.UserClass) {
	for _, u := range users {
		if usr, ok := u.(*tg.User); ok {
			s.rememberUser(usr)
		}
	}
}

func (s *Source) rememberChats(chats []tg.ChatClass) {
	for _, c := range chats {
		switch ch := c.(type) {
		case *tg.Channel:
			s.rememberChat(ch.ID, ch.Title)
		case *tg.Chat:
			s.rememberChat(ch.ID, ch.Title)
		}
	}
}

func (s *Source) rememberUser(u *tg.User) {
	s.users[u.ID] = displayName(u)
}

func (s *Source) rememberChat(id int64, title string) {
	if title != "" {
		s.chats[id] = title
	}
}

// displayName выбирает имя отправителя так же, как оно выводится в клиентах:
// имя пользователя, затем имя и фамилия.
func displayName(u *tg.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return unknownSender
	}
	return name
}
