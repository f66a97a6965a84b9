package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

type customerPayload struct {
	ID        ID     `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Tags      Tags   `json:"tags"`
}

type Customers struct {
	store  *store.Store
	logger *slog.Logger
}

func NewCustomers(s *store.Store, logger *slog.Logger) *Customers {
	return &Customers{store: s, logger: logger.With("processor", domain.TypeCustomers)}
}

func (p *Customers) Type() string { return domain.TypeCustomers }

func (p *Customers) Process(ctx context.Context, topic string, payload []byte) (domain.Outcome, error) {
	switch act := action(topic); act {
	case "create", "update":
		var in customerPayload
		if err := decode(payload, &in); err != nil {
			return domain.Outcome{}, err
		}
		if in.ID == "" {
			return domain.Outcome{}, fmt.Errorf("customer id required: %w", domain.ErrInvalidInput)
		}
		u, created, err := p.store.UpsertCustomer(ctx, store.CustomerInput{
			ShopifyCustomerID: in.ID.String(),
			Email:             in.Email,
			FirstName:         in.FirstName,
			LastName:          in.LastName,
			Tags:              string(in.Tags),
		})
		if err != nil {
			return domain.Outcome{}, err
		}
		if created {
			p.logger.Info("user created from customer webhook", "user_id", u.ID, "customer_id", in.ID)
		}
		return domain.Outcome{Kind: domain.OutcomeCustomerUpserted, Action: act, UserID: u.ID}, nil
	default:
		return domain.Skip(domain.TypeCustomers, topic, "unsupported customer topic"), nil
	}
}
