package exporter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/ports"
)

const ruleWidth = 60

// Console печатает итоговую сводку запуска в поток вывода.
type Console struct {
	out io.Writer
}

var _ ports.Reporter = (*Console)(nil)

// ConsoleOption определяет функциональную опцию для конфигурации вывода.
type ConsoleOption func(*Console)

// WithWriter направляет сводку в указанный поток вместо стандартного вывода.
func WithWriter(w io.Writer) ConsoleOption {
	return func(c *Console) {
		if w != nil {
			c.out = w
		}
	}
}

// NewConsole создает новый консольный отчет.
func NewConsole(opts ...ConsoleOption) *Console {
	c := &Console{out: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report выводит итоговую сводку по завершенному или прерванному запуску.
func (c *Console) Report(chat domain.Chat, stats domain.Stats, archiveDir string) error {
	rule := strings.Repeat("=", ruleWidth)

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", rule)
	fmt.Fprintln(&b, "Backup Complete")
	fmt.Fprintf(&b, "Chat: %s (%d)\n", chat.Title, chat.ID)
	fmt.Fprintf(&b, "Messages: %d\n", stats.Messages)
	fmt.Fprintf(&b, "Archived: %d\n", stats.Archived)
	if chat.Forum {
		fmt.Fprintf(&b, "Topics: %d\n", stats.Topics)
	}
	fmt.Fprintf(&b, "Media Saved: %d\n", stats.MediaDownloaded)
	fmt.Fprintf(&b, "Media Filtered: %d\n", stats.MediaFiltered)
	fmt.Fprintf(&b, "Media Protected (Skipped): %d\n", stats.MediaProtected)
	fmt.Fprintf(&b, "Media Failed: %d\n", stats.MediaFailed)
	fmt.Fprintf(&b, "Location: %s\n", archiveDir)
	if stats.LastID > 0 {
		fmt.Fprintf(&b, "Last message id: %d (rerun to continue from here)\n", stats.LastID)
	}
	fmt.Fprintf(&b, "%s\n", rule)

	_, err := io.WriteString(c.out, b.String())
	return err
}
