package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "reqtrail"
)

// Ключи
const (
	RedisKeySessions = RedisNamespace + ":sessions:"
)

// Каналы Pub/Sub
const (
	// RedisChanReports — канал доставки отчетов в коллектор.
	RedisChanReports = RedisNamespace + ":reports"
)

// SessionKey собирает ключ сессии: неймспейс, атрибут сессии из конфига и ID посетителя.
func SessionKey(attribute, sessionID string) string {
	return RedisKeySessions + attribute + ":" + sessionID
}
