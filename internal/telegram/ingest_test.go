package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/require"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

func TestTopicID(t *testing.T) {
	tests := []struct {
		name string
		msg  *tg.Message
		want int
	}{
		{
			name: "no reply header",
			msg:  &tg.Message{ID: 1},
			want: 0,
		},
		{
			name: "plain reply outside forum",
			msg: &tg.Message{
				ID:      2,
				ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 10},
			},
			want: 0,
		},
		{
			name: "direct message in topic",
			msg: &tg.Message{
				ID:      3,
				ReplyTo: &tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 15},
			},
			want: 15,
		},
		{
			name: "reply inside topic carries top id",
			msg: &tg.Message{
				ID:      4,
				ReplyTo: &tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 20, ReplyToTopID: 15},
			},
			want: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, topicID(tt.msg))
		})
	}
}

func TestAttachmentFrom(t *testing.T) {
	t.Run("no media", func(t *testing.T) {
		att := attachmentFrom(nil)
		require.Equal(t, domain.MediaNone, att.Kind)
		require.False(t, domain.Message{Media: att}.HasMedia())
	})

	t.Run("web preview is not an attachment", func(t *testing.T) {
		att := attachmentFrom(&tg.MessageMediaWebPage{})
		require.Equal(t, domain.MediaNone, att.Kind)
	})

	t.Run("photo picks largest size", func(t *testing.T) {
		att := attachmentFrom(&tg.MessageMediaPhoto{
			Photo: &tg.Photo{
				ID:         111,
				AccessHash: 222,
				Sizes: []tg.PhotoSizeClass{
					&tg.PhotoSize{Type: "m", Size: 1024},
					&tg.PhotoSize{Type: "x", Size: 90000},
					&tg.PhotoSize{Type: "s", Size: 100},
				},
			},
		})
		require.Equal(t, domain.MediaImage, att.Kind)
		require.Equal(t, int64(90000), att.Size)

		loc, ok := att.Ref.(*tg.InputPhotoFileLocation)
		require.True(t, ok)
		require.Equal(t, int64(111), loc.ID)
		require.Equal(t, "x", loc.ThumbSize)
	})

	t.Run("progressive photo size", func(t *testing.T) {
		att := attachmentFrom(&tg.MessageMediaPhoto{
			Photo: &tg.Photo{
				Sizes: []tg.PhotoSizeClass{
					&tg.PhotoSizeProgressive{Type: "y", Sizes: []int{100, 5000, 120000}},
				},
			},
		})
		require.Equal(t, int64(120000), att.Size)
	})

	t.Run("document with filename", func(t *testing.T) {
		att := attachmentFrom(&tg.MessageMediaDocument{
			Document: &tg.Document{
				ID:       333,
				Size:     4096,
				MimeType: "application/pdf",
				Attributes: []tg.DocumentAttributeClass{
					&tg.DocumentAttributeFilename{FileName: "report.pdf"},
				},
			},
		})
		require.Equal(t, domain.MediaOther, att.Kind)
		require.Equal(t, int64(4096), att.Size)
		require.Equal(t, "report.pdf", att.Filename)
		require.Equal(t, "application/pdf", att.MimeType)

		_, ok := att.Ref.(*tg.InputDocumentFileLocation)
		require.True(t, ok)
	})
}

func TestDocumentKind(t *testing.T) {
	tests := []struct {
		name string
		doc  *tg.Document
		want domain.MediaKind
	}{
		{
			name: "image by mime",
			doc:  &tg.Document{MimeType: "image/png"},
			want: domain.MediaImage,
		},
		{
			name: "audio by mime",
			doc:  &tg.Document{MimeType: "audio/ogg"},
			want: domain.MediaAudio,
		},
		{
			name: "video by mime",
			doc:  &tg.Document{MimeType: "video/mp4"},
			want: domain.MediaVideo,
		},
		{
			name: "voice note by attribute",
			doc: &tg.Document{
				MimeType:   "application/octet-stream",
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}},
			},
			want: domain.MediaAudio,
		},
		{
			name: "round video by attribute",
			doc: &tg.Document{
				MimeType:   "application/octet-stream",
				Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{RoundMessage: true}},
			},
			want: domain.MediaVideo,
		},
		{
			name: "plain file",
			doc:  &tg.Document{MimeType: "application/zip"},
			want: domain.MediaOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, documentKind(tt.doc))
		})
	}
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "alice", displayName(&tg.User{Username: "alice", FirstName: "Alice"}))
	require.Equal(t, "Alice Smith", displayName(&tg.User{FirstName: "Alice", LastName: "Smith"}))
	require.Equal(t, "Alice", displayName(&tg.User{FirstName: "Alice"}))
	require.Equal(t, "Unknown", displayName(&tg.User{}))
}

func TestSource_SenderName_ChannelPost(t *testing.T) {
	s := newTestSource(&fakeClient{})
	s.rememberChat(42, "Announcements")

	msg := &tg.Message{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 42}}
	require.Equal(t, "Announcements", s.senderName(msg))

	// Отправитель, которого нет в накопленных ответах API.
	unknown := &tg.Message{ID: 2, FromID: &tg.PeerUser{UserID: 9000}}
	require.Equal(t, "Unknown", s.senderName(unknown))
}
