package caches

import (
	"context"
	"encoding/json"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

const keyAllProducts = "all"

// MetadataCache holds product metadata per product plus one full map kept
// as a hash with one field per product.
type MetadataCache struct {
	*Named
}

func productKey(id string) string { return "product:" + id }

func (c *MetadataCache) Get(ctx context.Context, productID string) (domain.ProductInfo, bool) {
	var info domain.ProductInfo
	ok := c.GetJSON(ctx, productKey(productID), &info)
	return info, ok
}

// All returns the full product map when cached.
func (c *MetadataCache) All(ctx context.Context) (map[string]domain.ProductInfo, bool) {
	fields, ok := c.HGetAll(ctx, keyAllProducts)
	if !ok {
		return nil, false
	}
	return decodeFields[domain.ProductInfo](c.Named, keyAllProducts, fields), true
}

// UpdateProduct writes one product's entry and patches it into the full map
// when that map is cached. Other products are left untouched.
func (c *MetadataCache) UpdateProduct(ctx context.Context, info domain.ProductInfo) bool {
	raw, err := json.Marshal(info)
	if err != nil {
		c.logger.Error("product metadata not encodable", "product_id", info.ProductID, "error", err)
		return false
	}
	ok := c.SetRaw(ctx, productKey(info.ProductID), raw)
	c.HPatch(ctx, keyAllProducts, map[string][]byte{info.ProductID: raw, fieldUpdated: nowStamp()}, nil)
	return ok
}

// RemoveProducts drops products from the per-product keys and the full map.
func (c *MetadataCache) RemoveProducts(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		c.Del(ctx, productKey(id))
	}
	c.HPatch(ctx, keyAllProducts, map[string][]byte{fieldUpdated: nowStamp()}, ids)
}

// ReplaceAll rebuilds the full map and every per-product key.
func (c *MetadataCache) ReplaceAll(ctx context.Context, products []domain.ProductInfo) bool {
	all := make(map[string]domain.ProductInfo, len(products))
	for _, p := range products {
		all[p.ProductID] = p
		c.SetJSON(ctx, productKey(p.ProductID), p)
	}
	fields, err := encodeFields(all)
	if err != nil {
		c.logger.Error("product metadata not encodable", "error", err)
		return false
	}
	fields[fieldUpdated] = nowStamp()
	return c.HReplace(ctx, keyAllProducts, fields)
}

func nowStamp() []byte {
	b, _ := time.Now().UTC().MarshalText()
	return b
}
