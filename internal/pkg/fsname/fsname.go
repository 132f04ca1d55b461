package fsname

import (
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

var (
	// invalidChars — символы, запрещенные в именах файлов Windows/Unix.
	invalidChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	// spaceRun — последовательности пробельных символов, сворачиваемые в один пробел.
	spaceRun = regexp.MustCompile(`\s+`)
)

// maxNameLen ограничивает длину сегмента пути.
const maxNameLen = 50

// Sanitize приводит строку к виду, безопасному для использования в имени
// файла или каталога: удаляет запрещенные символы, сворачивает пробелы,
// обрезает крайние точки и пробелы и ограничивает длину.
func Sanitize(name string) string {
	s := invalidChars.ReplaceAllString(name, "")
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.Trim(s, ". ")

	if r := []rune(s); len(r) > maxNameLen {
		s = strings.Trim(string(r[:maxNameLen]), ". ")
	}

	if s == "" {
		return "Unknown"
	}
	return s
}

// MediaFileName возвращает имя файла для вложения сообщения. Имя всегда
// начинается с msg_<id>, что исключает коллизии между сообщениями.
func MediaFileName(msg domain.Message) string {
	base := fmt.Sprintf("msg_%d", msg.ID)

	if msg.Media.Filename != "" {
		name := base + "_" + Sanitize(msg.Media.Filename)
		if !strings.Contains(name, ".") {
			name += extensionFor(msg.Media.MimeType)
		}
		return name
	}

	// Фотографии не несут ни имени файла, ни mime-типа.
	if msg.Media.Kind == domain.MediaImage && msg.Media.MimeType == "" {
		return base + ".jpg"
	}

	if ext := extensionFor(msg.Media.MimeType); ext != "" {
		return base + ext
	}
	return base + ".bin"
}

func extensionFor(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
