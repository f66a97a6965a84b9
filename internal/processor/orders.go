package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

// Order actions reported to the admin room.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionSkipped = "skipped"
)

type orderPayload struct {
	ID          ID                `json:"id"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	CreatedAt   Time              `json:"created_at"`
	CancelledAt Time              `json:"cancelled_at"`
	Customer    *orderCustomer    `json:"customer"`
	LineItems   []json.RawMessage `json:"line_items"`
}

type orderCustomer struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
}

type lineItem struct {
	ProductID ID      `json:"product_id"`
	SKU       *string `json:"sku"`
	Quantity  int     `json:"quantity"`
}

type Orders struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewOrders(s *store.Store, logger *slog.Logger) *Orders {
	return &Orders{store: s, logger: logger.With("processor", domain.TypeOrders), now: time.Now}
}

func (p *Orders) Type() string { return domain.TypeOrders }

func (p *Orders) Process(ctx context.Context, topic string, payload []byte) (domain.Outcome, error) {
	var o orderPayload
	if err := decode(payload, &o); err != nil {
		return domain.Outcome{}, err
	}
	if o.Name == "" {
		return domain.Outcome{}, fmt.Errorf("order name required: %w", domain.ErrInvalidInput)
	}

	switch action(topic) {
	case "create", "updated", "paid", "fulfilled", "edited":
		if !o.CancelledAt.IsZero() {
			return p.cancel(ctx, topic, o)
		}
		return p.upsert(ctx, topic, o)
	case "cancelled":
		return p.cancel(ctx, topic, o)
	default:
		return domain.Skip(domain.TypeOrders, topic, "unsupported order topic"), nil
	}
}

// buyer returns the customer id and email an order names.
func (o orderPayload) buyer() (customerID, email string) {
	email = o.Email
	if o.Customer != nil {
		customerID = o.Customer.ID.String()
		if email == "" {
			email = o.Customer.Email
		}
	}
	return customerID, email
}

// lines decodes the catalog lines of an order.
func (o orderPayload) lines() ([]store.LineInput, error) {
	lines := make([]store.LineInput, 0, len(o.LineItems))
	for i, raw := range o.LineItems {
		var li lineItem
		if err := json.Unmarshal(raw, &li); err != nil {
			return nil, fmt.Errorf("order %s line %d: %v: %w", o.Name, i, err, domain.ErrInvalidInput)
		}
		if li.ProductID == "" {
			// Custom lines and tips have no catalog product.
			continue
		}
		sku := ""
		if li.SKU != nil {
			sku = *li.SKU
		}
		lines = append(lines, store.LineInput{
			ProductID: li.ProductID.String(),
			SKU:       sku,
			Quantity:  li.Quantity,
			Data:      datatypes.JSON(raw),
		})
	}
	return lines, nil
}

func (p *Orders) upsert(ctx context.Context, topic string, o orderPayload) (domain.Outcome, error) {
	customerID, email := o.buyer()
	userID, err := p.store.FindUserForOrder(ctx, customerID, email)
	if err != nil {
		return domain.Outcome{}, err
	}
	if userID == "" {
		p.logger.Info("order skipped, no matching user", "order", o.Name, "customer_id", customerID)
		out := domain.Skip(domain.TypeOrders, topic, "user not found for order")
		out.OrderNumber = o.Name
		return out, nil
	}

	lines, err := o.lines()
	if err != nil {
		return domain.Outcome{}, err
	}

	orderDate := o.CreatedAt.Time
	if orderDate.IsZero() {
		orderDate = p.now().UTC()
	}
	change, err := p.store.ApplyOrder(ctx, store.OrderInput{
		OrderNumber:   o.Name,
		OrderDate:     orderDate,
		UserID:        userID,
		CustomerEmail: email,
		Lines:         lines,
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	affected := change.AffectedProductIDs
	if len(affected) == 0 {
		// A replay changes nothing; recompute the order's products anyway so a
		// retry after a failed cache update still converges.
		affected = productIDs(lines)
	}
	act := ActionUpdated
	if change.Inserted > 0 && change.Updated == 0 && change.Deleted == 0 && change.Unchanged == 0 {
		act = ActionCreated
	}
	return domain.Outcome{
		Kind:               domain.OutcomeOrderProcessed,
		Action:             act,
		UserID:             userID,
		OrderNumber:        o.Name,
		RecordsCount:       change.Inserted + change.Updated + change.Unchanged,
		AffectedProductIDs: affected,
	}, nil
}

func (p *Orders) cancel(ctx context.Context, topic string, o orderPayload) (domain.Outcome, error) {
	lines, err := o.lines()
	if err != nil {
		return domain.Outcome{}, err
	}
	res, err := p.store.CancelOrder(ctx, o.Name)
	if err != nil {
		return domain.Outcome{}, err
	}
	if res.UserID == "" {
		// Never stored here; fall back to what the payload names so caches
		// holding the buyer's view still converge.
		customerID, email := o.buyer()
		res.UserID, err = p.store.FindUserForOrder(ctx, customerID, email)
		if err != nil {
			return domain.Outcome{}, err
		}
		res.AffectedProductIDs = productIDs(lines)
	}
	if res.UserID == "" {
		out := domain.Skip(domain.TypeOrders, topic, "no stored lines for order")
		out.OrderNumber = o.Name
		return out, nil
	}
	if res.Deleted == 0 {
		p.logger.Info("order cancellation replayed", "order", o.Name, "recorded", res.Replayed)
	}
	if len(res.AffectedProductIDs) == 0 {
		res.AffectedProductIDs = productIDs(lines)
	}
	return domain.Outcome{
		Kind:               domain.OutcomeOrderCancelled,
		Action:             ActionDeleted,
		UserID:             res.UserID,
		OrderNumber:        o.Name,
		RecordsCount:       res.Deleted,
		AffectedProductIDs: res.AffectedProductIDs,
	}, nil
}

func productIDs(lines []store.LineInput) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			out = append(out, l.ProductID)
		}
	}
	return out
}
