package mailbox

import (
	"log"

	"pjdir/internal/utils"
)

const (
	EnvRedisHost     = "PJDIR_REDIS_HOST"
	EnvRedisPort     = "PJDIR_REDIS_PORT"
	EnvRedisUser     = "PJDIR_REDIS_USERNAME"
	EnvRedisPassword = "PJDIR_REDIS_PASSWORD"
)

// NewStore picks the backing store from the environment: Redis when
// configured, otherwise the single-process memory store. The memory
// store cannot coordinate across relay instances; it exists for
// development and tests.
func NewStore() (Store, error) {
	redisHost := utils.GetEnv(EnvRedisHost, "")

	if redisHost != "" {
		redisPort := utils.GetEnv(EnvRedisPort, "6379")
		redisUser := utils.GetEnv(EnvRedisUser, "")
		redisPassword := utils.GetEnv(EnvRedisPassword, "")

		store, err := NewRedisStore(redisHost, redisPort, redisUser, redisPassword)
		if err != nil {
			return nil, err
		}
		log.Printf("💾 Using Redis mailbox store: %s:%s", redisHost, redisPort)
		return store, nil
	}

	log.Println("💾 Using in-memory mailbox store (single process only)")
	return NewMemoryStore(), nil
}
