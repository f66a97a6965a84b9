package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/extract"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

// RankableTag gates which catalog products enter the ranking system.
const RankableTag = "rankable"

// Skip reasons shown in the admin room.
var (
	reasonNotRankable   = fmt.Sprintf("Product does not have %q tag", RankableTag)
	reasonInventoryOnly = "inventory only"
)

// Tags accepts the storefront's comma-separated string or a JSON array.
type Tags string

func (t *Tags) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Tags(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("tags must be a string or list of strings")
	}
	*t = Tags(strings.Join(list, ", "))
	return nil
}

type productPayload struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	Vendor    string `json:"vendor"`
	Tags      Tags   `json:"tags"`
	CreatedAt Time   `json:"created_at"`
}

type Products struct {
	store     *store.Store
	extractor *extract.Extractor
	logger    *slog.Logger
}

func NewProducts(s *store.Store, x *extract.Extractor, logger *slog.Logger) *Products {
	return &Products{store: s, extractor: x, logger: logger.With("processor", domain.TypeProducts)}
}

func (p *Products) Type() string { return domain.TypeProducts }

func (p *Products) Process(ctx context.Context, topic string, payload []byte) (domain.Outcome, error) {
	var in productPayload
	if err := decode(payload, &in); err != nil {
		return domain.Outcome{}, err
	}
	if in.ID == "" {
		return domain.Outcome{}, fmt.Errorf("product id required: %w", domain.ErrInvalidInput)
	}

	switch act := action(topic); act {
	case "delete":
		return p.delete(ctx, in.ID.String())
	case "create", "update":
		if !extract.HasTag(string(in.Tags), RankableTag) {
			return p.skip(topic, in, reasonNotRankable), nil
		}
		if act == "update" && p.inventoryOnly(ctx, in) {
			return p.skip(topic, in, reasonInventoryOnly), nil
		}
		return p.upsert(ctx, act, in)
	default:
		return domain.Skip(domain.TypeProducts, topic, "unsupported product topic"), nil
	}
}

func (p *Products) skip(topic string, in productPayload, reason string) domain.Outcome {
	out := domain.Skip(domain.TypeProducts, topic, reason)
	out.ProductID = in.ID.String()
	out.Product = &domain.ProductInfo{ProductID: in.ID.String(), Title: in.Title, Vendor: in.Vendor, Tags: string(in.Tags)}
	return out
}

// inventoryOnly reports whether an update leaves every stored field as it
// is. Lookup failures count as a change.
func (p *Products) inventoryOnly(ctx context.Context, in productPayload) bool {
	stored, err := p.store.GetProduct(ctx, in.ID.String())
	if err != nil {
		if !store.IsNotFound(err) {
			p.logger.Warn("change analysis failed, processing update", "product_id", in.ID, "error", err)
		}
		return false
	}
	if stored.DeleteRequestedAt != nil {
		return false
	}
	return stored.Title == in.Title && stored.Vendor == in.Vendor && stored.Tags == string(in.Tags)
}

func (p *Products) upsert(ctx context.Context, act string, in productPayload) (domain.Outcome, error) {
	info := domain.ProductInfo{
		ProductID:        in.ID.String(),
		Title:            in.Title,
		Vendor:           in.Vendor,
		Tags:             string(in.Tags),
		ShopifyCreatedAt: in.CreatedAt.ptr(),
	}
	p.extractor.Classify(&info)
	if _, err := p.store.UpsertProduct(ctx, info); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Outcome{
		Kind:      domain.OutcomeProductUpserted,
		Action:    act,
		ProductID: info.ProductID,
		Product:   &info,
	}, nil
}

func (p *Products) delete(ctx context.Context, id string) (domain.Outcome, error) {
	flagged, err := p.store.RecordProductDelete(ctx, id)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !flagged {
		p.logger.Info("delete for unknown or already flagged product", "product_id", id)
	}
	return domain.Outcome{
		Kind:      domain.OutcomeProductDeleted,
		Action:    "delete",
		ProductID: id,
	}, nil
}
