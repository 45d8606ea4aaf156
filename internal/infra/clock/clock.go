package clock

import (
	"time"

	"emby-adminbot/internal/infra/config"
)

// Now возвращает текущее время в глобальной таймзоне приложения.
// До загрузки конфигурации (например, в тестах) используется локальная зона процесса.
func Now() time.Time {
	if config.AppLocation == nil {
		return time.Now()
	}
	return time.Now().In(config.AppLocation)
}
