package fsname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "обычное имя", input: "Normal Name", want: "Normal Name"},
		{name: "слэши удаляются", input: "Name/With/Slashes", want: "NameWithSlashes"},
		{name: "запрещенные символы удаляются", input: "Name?With*Invalid:Chars|", want: "NameWithInvalidChars"},
		{name: "крайние точки и пробелы обрезаются", input: "  Trim Me.  ", want: "Trim Me"},
		{name: "пустая строка", input: "", want: "Unknown"},
		{name: "только запрещенные символы", input: `\/*?:"<>|`, want: "Unknown"},
		{name: "пробелы сворачиваются", input: "a  \t b", want: "a b"},
		{name: "длинное имя обрезается", input: strings.Repeat("x", 80), want: strings.Repeat("x", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestMediaFileName(t *testing.T) {
	tests := []struct {
		name string
		msg  domain.Message
		want string
	}{
		{
			name: "фото без метаданных",
			msg:  domain.Message{ID: 7, Media: domain.Attachment{Kind: domain.MediaImage}},
			want: "msg_7.jpg",
		},
		{
			name: "документ с исходным именем",
			msg:  domain.Message{ID: 8, Media: domain.Attachment{Kind: domain.MediaOther, Filename: "report.pdf"}},
			want: "msg_8_report.pdf",
		},
		{
			name: "исходное имя проходит санитизацию",
			msg:  domain.Message{ID: 9, Media: domain.Attachment{Kind: domain.MediaOther, Filename: "bad/name?.txt"}},
			want: "msg_9_badname.txt",
		},
		{
			name: "без имени и mime-типа",
			msg:  domain.Message{ID: 10, Media: domain.Attachment{Kind: domain.MediaOther}},
			want: "msg_10.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaFileName(tt.msg))
		})
	}
}

func TestMediaFileName_MimeExtension(t *testing.T) {
	// Документ без точки в имени получает расширение из mime-типа.
	msg := domain.Message{ID: 11, Media: domain.Attachment{
		Kind:     domain.MediaVideo,
		Filename: "clip",
		MimeType: "video/mp4",
	}}
	name := MediaFileName(msg)
	assert.True(t, strings.HasPrefix(name, "msg_11_clip."), "expected mime-derived extension, got %s", name)
}
