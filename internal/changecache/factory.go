package changecache

import (
	"fmt"

	"github.com/angelmondragon/opsconsole/pkg/config"
	redisclient "github.com/angelmondragon/opsconsole/pkg/redis"
	"gorm.io/gorm"
)

// Backends carries the optional clients a configured store may need.
type Backends struct {
	Redis redisclient.KeyValueStore
	DB    *gorm.DB
}

// NewStore picks the persistence backend named in cfg.
func NewStore(cfg config.CacheConfig, deps Backends) (Store, error) {
	switch cfg.Backend {
	case "", config.CacheBackendFile:
		return NewFileStore(cfg.FilePath)
	case config.CacheBackendRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("cache backend %q needs a redis client", cfg.Backend)
		}
		return NewRedisStore(deps.Redis)
	case config.CacheBackendDB:
		if deps.DB == nil {
			return nil, fmt.Errorf("cache backend %q needs a database", cfg.Backend)
		}
		return NewDBStore(deps.DB)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}
