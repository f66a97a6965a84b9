package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// GetProduct loads one metadata row.
func (s *Store) GetProduct(ctx context.Context, productID string) (models.ProductMetadata, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var p models.ProductMetadata
	err := s.conn(ctx).Where("product_id = ?", productID).Take(&p).Error
	return p, err
}

// UpsertProduct writes metadata keyed by product id and clears any pending
// delete intent.
func (s *Store) UpsertProduct(ctx context.Context, info domain.ProductInfo) (models.ProductMetadata, error) {
	secondary, err := json.Marshal(nonNil(info.SecondaryFlavors))
	if err != nil {
		return models.ProductMetadata{}, err
	}
	row := models.ProductMetadata{
		ProductID:        info.ProductID,
		Title:            info.Title,
		Vendor:           info.Vendor,
		AnimalType:       info.AnimalType,
		AnimalDisplay:    info.AnimalDisplay,
		AnimalIcon:       info.AnimalIcon,
		PrimaryFlavor:    info.PrimaryFlavor,
		SecondaryFlavors: datatypes.JSON(secondary),
		FlavorDisplay:    info.FlavorDisplay,
		FlavorIcon:       info.FlavorIcon,
		Tags:             info.Tags,
		ShopifyCreatedAt: info.ShopifyCreatedAt,
	}

	ctx, cancel := s.op(ctx)
	defer cancel()
	err = s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "vendor", "animal_type", "animal_display", "animal_icon",
			"primary_flavor", "secondary_flavors", "flavor_display", "flavor_icon",
			"tags", "shopify_created_at", "delete_requested_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return models.ProductMetadata{}, fmt.Errorf("upsert product %s: %w", info.ProductID, err)
	}
	return row, nil
}

// RecordProductDelete flags a product for removal at the next orphan sweep.
// It reports whether a row was flagged.
func (s *Store) RecordProductDelete(ctx context.Context, productID string) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res := s.conn(ctx).Model(&models.ProductMetadata{}).
		Where("product_id = ? AND delete_requested_at IS NULL", productID).
		Update("delete_requested_at", s.now())
	if res.Error != nil {
		return false, fmt.Errorf("record delete intent %s: %w", productID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SweepDeletedProducts physically removes flagged metadata rows and returns
// their ids.
func (s *Store) SweepDeletedProducts(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Model(&models.ProductMetadata{}).
			Where("delete_requested_at IS NOT NULL").
			Order("product_id ASC").
			Pluck("product_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.db.Where("product_id IN ?", ids).Delete(&models.ProductMetadata{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("sweep deleted products: %w", err)
	}
	return ids, nil
}

// AllProducts returns every live metadata row.
func (s *Store) AllProducts(ctx context.Context) ([]models.ProductMetadata, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.ProductMetadata
	err := s.conn(ctx).Where("delete_requested_at IS NULL").Order("product_id ASC").Find(&rows).Error
	return rows, err
}

// ProductsByID loads metadata for the given ids.
func (s *Store) ProductsByID(ctx context.Context, ids []string) (map[string]models.ProductMetadata, error) {
	out := make(map[string]models.ProductMetadata, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.ProductMetadata
	if err := s.conn(ctx).Where("product_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ProductID] = r
	}
	return out, nil
}

// InfoOf projects a metadata row onto the cache value.
func InfoOf(p models.ProductMetadata) domain.ProductInfo {
	var secondary []string
	if len(p.SecondaryFlavors) > 0 {
		_ = json.Unmarshal(p.SecondaryFlavors, &secondary)
	}
	return domain.ProductInfo{
		ProductID:        p.ProductID,
		Title:            p.Title,
		Vendor:           p.Vendor,
		AnimalType:       p.AnimalType,
		AnimalDisplay:    p.AnimalDisplay,
		AnimalIcon:       p.AnimalIcon,
		PrimaryFlavor:    p.PrimaryFlavor,
		SecondaryFlavors: nonNil(secondary),
		FlavorDisplay:    p.FlavorDisplay,
		FlavorIcon:       p.FlavorIcon,
		Tags:             p.Tags,
		ShopifyCreatedAt: p.ShopifyCreatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
