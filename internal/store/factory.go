package store

import (
	"fmt"

	"github.com/codelenshq/oracle/internal/config"
	"github.com/codelenshq/oracle/internal/convo"
	"github.com/codelenshq/oracle/internal/store/pg"
)

// Open constructs the context store selected by cfg.Mode.
func Open(cfg config.StoreConfig) (convo.Store, error) {
	switch cfg.Mode {
	case "", "file":
		return NewFileStore(cfg.SessionsDir)
	case "postgres":
		db, err := pg.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg.NewContextStore(db)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.Mode)
	}
}
