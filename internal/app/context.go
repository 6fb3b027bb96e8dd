package app

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/gbimatch/matchmaker/internal/cache"
	"github.com/gbimatch/matchmaker/internal/config"
)

// AppContext holds shared dependencies (DB, Redis, Logger, config).
type AppContext struct {
	Cfg        *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
}

// New creates a new AppContext
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	return &AppContext{
		Cfg:        cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
	}
}

// StorageContext derives a context bounded by the configured storage timeout.
// Every service entry point wraps its storage and delivery I/O with this, so
// a stalled backend surfaces as a transient error instead of hanging the
// conversation.
func (a *AppContext) StorageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.Cfg.App.StorageTimeout)
}
