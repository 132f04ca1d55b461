package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/zknpr/Telegram2txt/internal/adapters/archive"
	"github.com/zknpr/Telegram2txt/internal/adapters/exporter"
	"github.com/zknpr/Telegram2txt/internal/core/services"
	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/log"
	"github.com/zknpr/Telegram2txt/internal/pkg/config"
	"github.com/zknpr/Telegram2txt/internal/ports"
	"github.com/zknpr/Telegram2txt/internal/telegram"
)

// Коды завершения процесса: прерванный запуск отличим от фатальной ошибки,
// потому что его архив пригоден для возобновления повторным запуском.
const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Загрузка конфигурации из аргументов, окружения и YAML-файла.
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitFatal
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to validate config: %v\n", err)
		return exitFatal
	}

	// Инициализация логгера с маскировкой учетных данных.
	// Журнал идет в stderr: stdout занят итоговой сводкой и вводом кода авторизации.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := log.NewMaskedLogger(handler)
	slog.SetDefault(logger)

	// Ожидание сигналов для корректного прерывания: архив остается
	// согласованным, повторный запуск продолжит с места остановки.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// В отладочном режиме включается внутренняя диагностика MTProto-клиента.
	var zapLogger *zap.Logger
	if cfg.LogLevel == "debug" {
		zapLogger, err = zap.NewDevelopment()
		if err != nil {
			slog.Error("failed to create debug logger", slog.String("error", err.Error()))
			return exitFatal
		}
		defer func() { _ = zapLogger.Sync() }()
	}

	client := telegram.NewClient(telegram.Config{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		PhoneNumber: cfg.PhoneNumber,
		SessionPath: cfg.SessionFile,
		Logger:      zapLogger,
	}, telegram.WithLogger(logger.With(slog.String("component", "telegram"))))

	client.Start(ctx)
	if err := client.Ready(ctx); err != nil {
		slog.Error("telegram client failed to start", slog.String("error", err.Error()))
		return exitFatal
	}

	source := telegram.NewSource(client,
		telegram.WithSourceLogger(logger.With(slog.String("component", "source"))))

	// Каталог архива выводится из имени чата, поэтому архив открывается
	// после разрешения. Чат и каталог запоминаются для итоговой сводки.
	var reportChat domain.Chat
	var archiveDir string

	deps := services.BackupDeps{
		Resolver: source,
		Source:   source,
		Topics:   source,
		Fetcher:  source,
		ArchiveFor: func(chat domain.Chat) (ports.Archive, error) {
			w, err := archive.New(cfg.OutputDir, chat,
				archive.WithLogger(logger.With(slog.String("component", "archive"))))
			if err != nil {
				return nil, err
			}
			reportChat = chat
			archiveDir = w.Dir()
			return w, nil
		},
	}

	svc := services.NewBackupService(deps,
		services.BackupConfig{
			Chat:          cfg.Chat,
			PageSize:      cfg.PageSize,
			DownloadMedia: cfg.DownloadMedia,
			MediaWorkers:  cfg.MediaWorkers,
			MaxRetries:    cfg.MaxRetries,
		},
		services.WithLogger(logger.With(slog.String("component", "backup"))),
		services.WithMediaFilter(services.NewMediaFilter(cfg.MediaFilter, cfg.MediaMaxSize)),
	)

	stats, runErr := svc.Run(ctx)

	reporter := exporter.NewConsole()
	if archiveDir != "" {
		if err := reporter.Report(reportChat, stats, archiveDir); err != nil {
			slog.Warn("failed to print summary", slog.String("error", err.Error()))
		}
	}

	switch {
	case runErr == nil:
		return exitOK
	case errors.Is(runErr, services.ErrInterrupted):
		slog.Warn("Backup interrupted, archive is consistent and resumable",
			slog.Int("last_id", stats.LastID))
		return exitInterrupted
	default:
		slog.Error("backup failed", slog.String("error", runErr.Error()))
		return exitFatal
	}
}
