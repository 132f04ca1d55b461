package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

// Download скачивает вложение в файл по указанному пути.
// Для чатов с защищенным контентом возвращает domain.ErrMediaRestricted.
func (s *Source) Download(ctx context.Context, att domain.Attachment, path string) error {
	loc, ok := att.Ref.(tg.InputFileLocationClass)
	if !ok {
		return fmt.Errorf("attachment has no downloadable location")
	}

	if err := s.client.DownloadTo(ctx, loc, path); err != nil {
		if tgerr.Is(err, "CHAT_FORWARDS_RESTRICTED") {
			return fmt.Errorf("download to %s: %w", path, domain.ErrMediaRestricted)
		}
		return fmt.Errorf("download to %s: %w", path, err)
	}

	return nil
}
