// Package config предоставляет управление конфигурацией приложения
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// negNumberRegex распознает отрицательный числовой идентификатор чата,
// который разборщик флагов иначе принял бы за неизвестный флаг.
var negNumberRegex = regexp.MustCompile(`^-\d+$`)

// Config содержит конфигурацию одного запуска архиватора.
type Config struct {
	// Учетные данные Telegram API.
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionFile string `yaml:"session_file"`

	// Chat — пользовательская ссылка на чат: @username или числовой ID.
	Chat string

	// Параметры загрузки медиа.
	DownloadMedia bool
	MediaFilter   string `yaml:"media_filter"`
	MediaMaxSize  int64  `yaml:"media_max_size"`

	// Параметры обхода истории и вывода.
	OutputDir    string `yaml:"output_dir"`
	PageSize     int    `yaml:"page_size"`
	MediaWorkers int    `yaml:"media_workers"`
	MaxRetries   int    `yaml:"max_retries"`

	LogLevel string `yaml:"log_level"`
}

// Load собирает конфигурацию из аргументов командной строки, переменных
// окружения (включая .env файл) и необязательного YAML-файла с настройками.
// Приоритет: флаги, затем YAML, затем значения по умолчанию. Учетные данные
// берутся из позиционных аргументов `api_id api_hash chat`, либо из окружения
// (API_ID, API_HASH, PHONE_NUMBER), и тогда единственный позиционный
// аргумент — сам чат.
func Load(args []string) (*Config, error) {
	// Загрузка переменных окружения из .env файла, если он существует.
	_ = godotenv.Load()

	cfg := &Config{
		SessionFile:  getEnv("SESSION_FILE", DefaultSessionFile),
		MediaFilter:  DefaultMediaFilter,
		OutputDir:    DefaultOutputDir,
		PageSize:     DefaultPageSize,
		MediaWorkers: DefaultMediaWorkers,
		MaxRetries:   DefaultMaxRetries,
		LogLevel:     DefaultLogLevel,
	}

	fs := flag.NewFlagSet("telegram2txt", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to optional YAML file with defaults")
	fs.BoolVar(&cfg.DownloadMedia, "download-media", false, "download media attachments")
	fs.StringVar(&cfg.MediaFilter, "media-filter", cfg.MediaFilter, "media type filter: image|audio|video|other|all")
	fs.Int64Var(&cfg.MediaMaxSize, "media-max-size", 0, "maximum media size in bytes (0 = unlimited)")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "archive output root directory")
	fs.StringVar(&cfg.SessionFile, "session", cfg.SessionFile, "path to the session file")
	fs.StringVar(&cfg.PhoneNumber, "phone", getEnv("PHONE_NUMBER", ""), "phone number for interactive auth")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "history page size")
	fs.IntVar(&cfg.MediaWorkers, "media-workers", cfg.MediaWorkers, "concurrent media downloads")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries per transient request failure")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	// Числовой идентификатор чата вида -100123456 — позиционный аргумент,
	// а не флаг: всё начиная с него отделяется терминатором.
	for i, a := range args {
		if negNumberRegex.MatchString(a) {
			args = append(args[:i:i], append([]string{"--"}, args[i:]...)...)
			break
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := applyYAML(cfg, fs, *configPath); err != nil {
			return nil, err
		}
	}

	if err := applyPositional(cfg, fs.Args()); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyYAML накладывает значения из YAML-файла поверх значений по умолчанию,
// не перекрывая флаги, явно заданные в командной строке.
func applyYAML(cfg *Config, fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("не удалось разобрать YAML конфигурацию: %w", err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if fileCfg.SessionFile != "" && !set["session"] {
		cfg.SessionFile = fileCfg.SessionFile
	}
	if fileCfg.MediaFilter != "" && !set["media-filter"] {
		cfg.MediaFilter = fileCfg.MediaFilter
	}
	if fileCfg.MediaMaxSize != 0 && !set["media-max-size"] {
		cfg.MediaMaxSize = fileCfg.MediaMaxSize
	}
	if fileCfg.OutputDir != "" && !set["output-dir"] {
		cfg.OutputDir = fileCfg.OutputDir
	}
	if fileCfg.PageSize != 0 && !set["page-size"] {
		cfg.PageSize = fileCfg.PageSize
	}
	if fileCfg.MediaWorkers != 0 && !set["media-workers"] {
		cfg.MediaWorkers = fileCfg.MediaWorkers
	}
	if fileCfg.MaxRetries != 0 && !set["max-retries"] {
		cfg.MaxRetries = fileCfg.MaxRetries
	}
	if fileCfg.LogLevel != "" && !set["log-level"] {
		cfg.LogLevel = fileCfg.LogLevel
	}

	return nil
}

// applyPositional разбирает позиционные аргументы: либо `api_id api_hash chat`,
// либо только `chat`, когда учетные данные заданы в окружении.
func applyPositional(cfg *Config, rest []string) error {
	switch len(rest) {
	case 3:
		apiID, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("недопустимый api_id %q: %w", rest[0], err)
		}
		cfg.APIID = apiID
		cfg.APIHash = rest[1]
		cfg.Chat = rest[2]
		return nil
	case 1:
		apiIDStr := getEnv("API_ID", "")
		apiHash := getEnv("API_HASH", "")
		if apiIDStr == "" || apiHash == "" {
			return fmt.Errorf("учетные данные не заданы: передайте `api_id api_hash chat` или установите API_ID и API_HASH")
		}
		apiID, err := strconv.Atoi(apiIDStr)
		if err != nil {
			return fmt.Errorf("недопустимый API_ID: %w", err)
		}
		cfg.APIID = apiID
		cfg.APIHash = apiHash
		cfg.Chat = rest[0]
		return nil
	default:
		return fmt.Errorf("ожидается `api_id api_hash chat` или `chat`, получено %d аргументов", len(rest))
	}
}

// Validate проверяет, являются ли значения конфигурации допустимыми
func (c *Config) Validate() error {
	if c.APIID <= 0 {
		return fmt.Errorf("api_id должно быть положительным целым числом")
	}
	if c.APIHash == "" {
		return fmt.Errorf("api_hash не может быть пустым")
	}
	if c.Chat == "" {
		return fmt.Errorf("идентификатор чата не может быть пустым")
	}

	switch c.MediaFilter {
	case "image", "audio", "video", "other", "all":
		// all good
	default:
		return fmt.Errorf("media-filter должен быть одним из: image, audio, video, other, all")
	}

	if c.MediaMaxSize < 0 {
		return fmt.Errorf("media-max-size должно быть неотрицательным (0 для отсутствия ограничений)")
	}

	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("page-size должен быть в диапазоне 1-100")
	}

	if c.MediaWorkers <= 0 {
		return fmt.Errorf("media-workers должно быть положительным")
	}

	if c.MaxRetries <= 0 {
		return fmt.Errorf("max-retries должно быть положительным")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// all good
	default:
		return fmt.Errorf("log-level должен быть одним из: debug, info, warn, error")
	}

	return nil
}

// getEnv извлекает значение переменной окружения или возвращает значение по умолчанию, если она не установлена
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
