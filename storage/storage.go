package storage

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"mailtriage/config"
)

var (
	_ fiber.Storage = (*FileStorage)(nil)
	_ fiber.Storage = (*SQLiteStorage)(nil)
)

// Open returns the storage selected by cfg.Driver.
func Open(cfg config.StorageConfig) (fiber.Storage, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStorage(cfg.Directory)
	case "sqlite":
		return NewSQLiteStorage(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
