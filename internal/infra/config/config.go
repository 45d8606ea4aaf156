// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (админ-бот каталога Emby). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет потокобезопасный доступ к результатам через R/W мьютекс.
//
// Бизнес-контекст: конфиг описывает подключение к Emby API (адрес и ключ),
// параметры полной синхронизации каталога пользователей, канал уведомлений
// администраторов (Bot API), файл локального зеркала и «ручки» логирования.
// Отсутствие учётных данных Emby — допустимое состояние: зависимые операции
// коротко отвечают «not configured», не роняя процесс.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"emby-adminbot/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: адрес и ключ Emby, размер страницы и интервал синхронизации,
// токен бота и чат администраторов, файлы данных и логов.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	EmbyBaseURL string
	EmbyAPIKey  string

	SyncPageSize    int
	SyncIntervalMin int
	ThrottleRPS     int

	BotToken    string
	AdminChatID int64
	AdminUID    int64

	DataFile    string
	LogLevel    string
	AppTimezone string

	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	// Web Server
	WebServerEnable  bool
	WebServerAddress string
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; после Load конфигурация
// не мутирует, блокировка защищает только порядок инициализации.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultSyncPageSize    = 200
	defaultSyncIntervalMin = 0 // 0 — периодическая синхронизация выключена
	defaultThrottleRPS     = 2
	defaultAdminUID        = 0
	defaultLogLevel        = "info"
	defaultDataFile        = "data/directory.bbolt"
	defaultAppTimezone     = "Europe/Moscow"
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
	// Web Server
	defaultWebServerEnable  = false
	defaultWebServerAddress = "127.0.0.1:8080"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — глобальная таймзона приложения, валидируется при загрузке конфига.
var AppLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове:
//  1. читает .env,
//  2. формирует EnvConfig,
//  3. фиксирует результат в singleton cfgInstance.
//
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var warnings []string

	embyBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("EMBY_BASE_URL")), "/")
	embyAPIKey := strings.TrimSpace(os.Getenv("EMBY_API_KEY"))
	if embyBaseURL == "" || embyAPIKey == "" {
		appendWarningf(&warnings,
			"EMBY_BASE_URL/EMBY_API_KEY are not set; directory sync and remote deletes will report 'not configured'")
	}

	pageSize := parseIntDefault("SYNC_PAGE_SIZE", defaultSyncPageSize, greaterThanZero, &warnings)
	syncInterval := parseIntDefault("SYNC_INTERVAL_MIN", defaultSyncIntervalMin, nonNegative, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	adminChatID := parseInt64Default("ADMIN_CHAT_ID", 0, &warnings)
	adminUID := parseInt64Default("ADMIN_UID", defaultAdminUID, &warnings)
	if botToken == "" || adminChatID == 0 {
		appendWarningf(&warnings,
			"BOT_TOKEN/ADMIN_CHAT_ID are not set; admin notifications are disabled")
	}

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	dataFile := sanitizeFile("DATA_FILE", os.Getenv("DATA_FILE"), defaultDataFile, &warnings)
	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)
	// Web Server
	webServerEnable := parseBoolDefault("WEB_SERVER_ENABLE", defaultWebServerEnable, &warnings)
	webServerAddress := sanitizeFile("WEB_SERVER_ADDRESS", os.Getenv("WEB_SERVER_ADDRESS"),
		defaultWebServerAddress, &warnings)

	var err error
	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		EmbyBaseURL:     embyBaseURL,
		EmbyAPIKey:      embyAPIKey,
		SyncPageSize:    pageSize,
		SyncIntervalMin: syncInterval,
		ThrottleRPS:     throttleRPS,
		BotToken:        botToken,
		AdminChatID:     adminChatID,
		AdminUID:        adminUID,
		DataFile:        dataFile,
		LogLevel:        logLevel,
		AppTimezone:     appTimezone,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
		// Web Server
		WebServerEnable:  webServerEnable,
		WebServerAddress: webServerAddress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// EmbyConfigured сообщает, заданы ли адрес и ключ Emby. Проверка вынесена сюда,
// чтобы все потребители трактовали «не настроено» одинаково.
func EmbyConfigured() bool {
	env := Env()
	return env.EmbyBaseURL != "" && env.EmbyAPIKey != ""
}

// NotifierConfigured сообщает, настроен ли канал уведомлений администраторов.
func NotifierConfigured() bool {
	env := Env()
	return env.BotToken != "" && env.AdminChatID != 0
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseInt64Default читает name как int64 (идентификаторы Telegram не помещаются в int32).
// Пустое или некорректное значение даёт defaultVal без остановки загрузки.
func parseInt64Default(name string, defaultVal int64, warnings *[]string) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень логирования; неизвестные значения заменяются дефолтом.
func sanitizeLogLevel(level, defaultVal string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(level))
	switch v {
	case "debug", "info", "warn", "error":
		return v
	case "":
		return defaultVal
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is not recognized; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile возвращает value либо fallback, если значение пустое. Пути не
// проверяются на существование: каталоги создаются по месту использования.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible валидирует таймзону (IANA или UTC-смещение); при
// ошибке возвращает fallback с предупреждением.
func sanitizeTimezoneFlexible(value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env timezone value %q is invalid; using default %q", value, fallback)
		return fallback
	}
	return v
}
