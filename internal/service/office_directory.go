package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/staff-transfer-api/internal/models"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
)

type officeStore interface {
	GetByID(ctx context.Context, id string) (*models.Office, error)
}

// OfficeDirectory resolves offices to their zone and district, caching lookups.
type OfficeDirectory struct {
	repo   officeStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewOfficeDirectory constructs the directory. cache may be nil.
func NewOfficeDirectory(repo officeStore, cache *CacheService, ttl time.Duration, logger *zap.Logger) *OfficeDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfficeDirectory{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func officeCacheKey(id string) string {
	return fmt.Sprintf("directory:office:%s", id)
}

// Office returns the directory entry for id. Unknown offices yield NOT_FOUND.
func (d *OfficeDirectory) Office(ctx context.Context, id string) (*models.Office, error) {
	return ReadThrough(ctx, d.cache, officeCacheKey(id), d.ttl, func(ctx context.Context) (*models.Office, error) {
		office, err := d.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("office %s not found", id))
			}
			d.logger.Warn("office lookup failed", zap.String("office_id", id), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve office")
		}
		return office, nil
	})
}
