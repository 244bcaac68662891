package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pagestats/models"
)

// GormStore keeps one row per page in the page_statistics table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened gorm handle (MySQL in production).
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Init creates the table when it does not exist yet.
func (g *GormStore) Init(ctx context.Context) error {
	db := g.db.WithContext(ctx)
	if db.Migrator().HasTable(&models.PageStatistics{}) {
		return nil
	}
	if err := db.AutoMigrate(&models.PageStatistics{}); err != nil {
		return fmt.Errorf("migrate page_statistics: %w", err)
	}
	return nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormStore) Put(ctx context.Context, rec models.PageStatistics) error {
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "page_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sql put page %d: %w", rec.PageID, err)
	}
	return nil
}

func (g *GormStore) UpdateFields(ctx context.Context, pageID int64, meta models.PageMeta) error {
	err := g.db.WithContext(ctx).Model(&models.PageStatistics{}).
		Where("page_id = ?", pageID).
		UpdateColumns(map[string]interface{}{"name": meta.Name, "description": meta.Description}).Error
	if err != nil {
		return fmt.Errorf("sql update page %d: %w", pageID, err)
	}
	return nil
}

// AdjustCounter issues a single UPDATE ... SET col = col + ? so concurrent deltas never overwrite each other.
func (g *GormStore) AdjustCounter(ctx context.Context, pageID int64, counter models.Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	col := string(counter)
	err := g.db.WithContext(ctx).Model(&models.PageStatistics{}).
		Where("page_id = ?", pageID).
		UpdateColumn(col, gorm.Expr(col+" + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("sql adjust %s on page %d: %w", counter, pageID, err)
	}
	return nil
}

func (g *GormStore) Delete(ctx context.Context, pageID int64) error {
	if err := g.db.WithContext(ctx).Where("page_id = ?", pageID).Delete(&models.PageStatistics{}).Error; err != nil {
		return fmt.Errorf("sql delete page %d: %w", pageID, err)
	}
	return nil
}

func (g *GormStore) Get(ctx context.Context, pageID int64) (*models.PageStatistics, error) {
	var rec models.PageStatistics
	err := g.db.WithContext(ctx).Where("page_id = ?", pageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get page %d: %w", pageID, err)
	}
	return &rec, nil
}

func (g *GormStore) QueryByOwner(ctx context.Context, ownerID int64) ([]models.PageStatistics, error) {
	out := []models.PageStatistics{}
	if err := g.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("page_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("sql query owner %d: %w", ownerID, err)
	}
	return out, nil
}

func (g *GormStore) QueryByOwnerAndPage(ctx context.Context, ownerID, pageID int64) (*models.PageStatistics, error) {
	rec, err := g.Get(ctx, pageID)
	return ownedBy(rec, err, ownerID)
}
