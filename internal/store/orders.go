package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"gorm.io/datatypes"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// LineInput is one incoming order line keyed by (product id, sku).
type LineInput struct {
	ProductID string
	SKU       string
	Quantity  int
	Data      datatypes.JSON
}

type lineKey struct{ productID, sku string }

// OrderChange summarizes what an order upsert did to the stored lines.
type OrderChange struct {
	Inserted  int
	Updated   int
	Deleted   int
	Unchanged int
	// AffectedProductIDs is the sorted union of inserted, updated and
	// deleted product ids.
	AffectedProductIDs []string
}

// OrderInput is the order-level data applied with the lines.
type OrderInput struct {
	OrderNumber   string
	OrderDate     time.Time
	UserID        string
	CustomerEmail string
	Lines         []LineInput
}

// ApplyOrder makes the stored lines of an order equal to the non-zero lines
// of the incoming payload in one transaction. Lines absent from the payload
// are deleted.
func (s *Store) ApplyOrder(ctx context.Context, in OrderInput) (OrderChange, error) {
	incoming := make(map[lineKey]LineInput, len(in.Lines))
	order := make([]lineKey, 0, len(in.Lines))
	for _, l := range in.Lines {
		if l.Quantity < 0 {
			return OrderChange{}, fmt.Errorf("order %s product %s: negative quantity %d: %w",
				in.OrderNumber, l.ProductID, l.Quantity, domain.ErrInvalidInput)
		}
		k := lineKey{l.ProductID, l.SKU}
		if prev, ok := incoming[k]; ok {
			// The same product and sku on two lines is one stored row.
			prev.Quantity += l.Quantity
			prev.Data = l.Data
			incoming[k] = prev
			continue
		}
		incoming[k] = l
		order = append(order, k)
	}

	var change OrderChange
	affected := make(map[string]struct{})

	err := s.Transaction(ctx, func(tx *Store) error {
		var existing []models.OrderLine
		if err := tx.db.Where("order_number = ?", in.OrderNumber).Find(&existing).Error; err != nil {
			return fmt.Errorf("load lines: %w", err)
		}
		stored := make(map[lineKey]models.OrderLine, len(existing))
		for _, row := range existing {
			stored[lineKey{row.ProductID, row.SKU}] = row
		}

		for _, k := range order {
			l := incoming[k]
			row, exists := stored[k]
			switch {
			case exists && l.Quantity == 0:
				if err := tx.deleteLine(row); err != nil {
					return err
				}
				change.Deleted++
				affected[k.productID] = struct{}{}
			case exists:
				if row.Quantity == l.Quantity && jsonEqual(row.LineItemData, l.Data) &&
					row.UserID == in.UserID {
					change.Unchanged++
					continue
				}
				err := tx.db.Model(&models.OrderLine{}).
					Where("order_number = ? AND product_id = ? AND sku = ?", in.OrderNumber, k.productID, k.sku).
					Updates(map[string]any{
						"quantity":       l.Quantity,
						"line_item_data": l.Data,
						"user_id":        in.UserID,
						"customer_email": in.CustomerEmail,
						"updated_at":     s.now(),
					}).Error
				if err != nil {
					return fmt.Errorf("update line %s/%s: %w", k.productID, k.sku, err)
				}
				change.Updated++
				affected[k.productID] = struct{}{}
			case l.Quantity > 0:
				row := models.OrderLine{
					OrderNumber:   in.OrderNumber,
					ProductID:     k.productID,
					SKU:           k.sku,
					OrderDate:     in.OrderDate.UTC(),
					Quantity:      l.Quantity,
					UserID:        in.UserID,
					CustomerEmail: in.CustomerEmail,
					LineItemData:  l.Data,
				}
				if err := tx.db.Create(&row).Error; err != nil {
					return fmt.Errorf("insert line %s/%s: %w", k.productID, k.sku, err)
				}
				change.Inserted++
				affected[k.productID] = struct{}{}
			}
		}

		for k, row := range stored {
			if _, ok := incoming[k]; ok {
				continue
			}
			if err := tx.deleteLine(row); err != nil {
				return err
			}
			change.Deleted++
			affected[k.productID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return OrderChange{}, fmt.Errorf("apply order %s: %w", in.OrderNumber, err)
	}
	change.AffectedProductIDs = sortedKeys(affected)
	return change, nil
}

func (s *Store) deleteLine(row models.OrderLine) error {
	err := s.db.Where("order_number = ? AND product_id = ? AND sku = ?", row.OrderNumber, row.ProductID, row.SKU).
		Delete(&models.OrderLine{}).Error
	if err != nil {
		return fmt.Errorf("delete line %s/%s: %w", row.ProductID, row.SKU, err)
	}
	return nil
}

// CancelResult describes the lines removed by a cancellation. Replayed is
// set when the lines were already gone and the result comes from the
// recorded cancellation.
type CancelResult struct {
	UserID             string
	Deleted            int
	AffectedProductIDs []string
	Replayed           bool
}

// CancelOrder deletes every stored line of an order and records the
// cancellation. The owning user is taken from the deleted rows. Cancelling
// again returns the recorded owner and products.
func (s *Store) CancelOrder(ctx context.Context, orderNumber string) (CancelResult, error) {
	var res CancelResult
	err := s.Transaction(ctx, func(tx *Store) error {
		var rows []models.OrderLine
		if err := tx.db.Where("order_number = ?", orderNumber).Find(&rows).Error; err != nil {
			return fmt.Errorf("load lines: %w", err)
		}
		if len(rows) == 0 {
			var prev models.CancelledOrder
			err := tx.db.Where("order_number = ?", orderNumber).Limit(1).Find(&prev).Error
			if err != nil {
				return fmt.Errorf("load cancellation: %w", err)
			}
			if prev.OrderNumber == "" {
				return nil
			}
			res.UserID = prev.UserID
			res.Replayed = true
			if len(prev.ProductIDs) > 0 {
				if err := json.Unmarshal(prev.ProductIDs, &res.AffectedProductIDs); err != nil {
					return fmt.Errorf("decode cancellation: %w", err)
				}
			}
			return nil
		}
		if err := tx.db.Where("order_number = ?", orderNumber).Delete(&models.OrderLine{}).Error; err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		affected := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			affected[r.ProductID] = struct{}{}
			if res.UserID == "" {
				res.UserID = r.UserID
			}
		}
		res.Deleted = len(rows)
		res.AffectedProductIDs = sortedKeys(affected)

		ids, err := json.Marshal(res.AffectedProductIDs)
		if err != nil {
			return err
		}
		record := models.CancelledOrder{
			OrderNumber: orderNumber,
			UserID:      res.UserID,
			ProductIDs:  datatypes.JSON(ids),
			CancelledAt: time.Now().UTC(),
		}
		if err := tx.db.Save(&record).Error; err != nil {
			return fmt.Errorf("record cancellation: %w", err)
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel order %s: %w", orderNumber, err)
	}
	return res, nil
}

// OrderLines returns the stored lines of one order.
func (s *Store) OrderLines(ctx context.Context, orderNumber string) ([]models.OrderLine, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.OrderLine
	err := s.conn(ctx).Where("order_number = ?", orderNumber).
		Order("product_id ASC, sku ASC").Find(&rows).Error
	return rows, err
}

// PurchasedProductIDs lists the distinct products a user has bought.
func (s *Store) PurchasedProductIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var ids []string
	err := s.conn(ctx).Model(&models.OrderLine{}).
		Where("user_id = ?", userID).
		Distinct("product_id").
		Order("product_id ASC").
		Pluck("product_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("purchased products for %s: %w", userID, err)
	}
	return ids, nil
}

// jsonEqual compares documents by value; jsonb does not preserve formatting.
func jsonEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
