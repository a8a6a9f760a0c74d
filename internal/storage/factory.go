package storage

import (
	"fmt"

	"mvideodk-relay/internal/config"
)

// New builds and initialises the backend named by cfg.Type.
func New(cfg config.StorageConfig) (Storage, error) {
	var s Storage
	switch cfg.Type {
	case "", "disk":
		s = NewDiskStorage(cfg.DataDir)
	case "memory":
		s = NewMemoryStorage()
	case "sqlite":
		s = NewSQLiteStorage(cfg.SQLitePath)
	case "redis":
		s = NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}

	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}
