package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// FindUserForOrder resolves the owner of an order by storefront customer id,
// then by email. It returns "" without error when nobody matches.
func (s *Store) FindUserForOrder(ctx context.Context, customerID, email string) (string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var u models.User
	if customerID != "" {
		err := s.conn(ctx).Where("shopify_customer_id = ?", customerID).Take(&u).Error
		if err == nil {
			return u.ID, nil
		}
		if !IsNotFound(err) {
			return "", fmt.Errorf("find user by customer id: %w", err)
		}
	}
	email = normalizeEmail(email)
	if email == "" {
		return "", nil
	}
	err := s.conn(ctx).Where("LOWER(email) = ?", email).Order("created_at ASC").Take(&u).Error
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find user by email: %w", err)
	}
	return u.ID, nil
}

// CustomerInput is the user data carried by a customer webhook.
type CustomerInput struct {
	ShopifyCustomerID string
	Email             string
	FirstName         string
	LastName          string
	Tags              string
}

// UpsertCustomer links or creates the user behind a storefront customer.
func (s *Store) UpsertCustomer(ctx context.Context, in CustomerInput) (models.User, bool, error) {
	if in.ShopifyCustomerID == "" {
		return models.User{}, false, fmt.Errorf("customer id required: %w", domain.ErrInvalidInput)
	}
	var (
		out     models.User
		created bool
	)
	err := s.Transaction(ctx, func(tx *Store) error {
		email := normalizeEmail(in.Email)
		err := tx.db.Where("shopify_customer_id = ?", in.ShopifyCustomerID).Take(&out).Error
		if IsNotFound(err) && email != "" {
			err = tx.db.Where("LOWER(email) = ? AND shopify_customer_id IS NULL", email).
				Order("created_at ASC").Take(&out).Error
		}
		switch {
		case IsNotFound(err):
			created = true
			out = models.User{ID: uuid.NewString(), Role: "user"}
		case err != nil:
			return err
		}

		cid := in.ShopifyCustomerID
		out.ShopifyCustomerID = &cid
		if email != "" {
			out.Email = email
		}
		out.FirstName = strings.TrimSpace(in.FirstName)
		out.LastName = strings.TrimSpace(in.LastName)
		out.Tags = in.Tags
		out.DisplayName = displayName(out.FirstName, out.LastName, out.Email)
		return tx.db.Save(&out).Error
	})
	if err != nil {
		return models.User{}, false, fmt.Errorf("upsert customer %s: %w", in.ShopifyCustomerID, err)
	}
	return out, created, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var u models.User
	err := s.conn(ctx).Where("id = ?", id).Take(&u).Error
	return u, err
}

// ErrSessionInvalid is returned for unknown or expired sessions.
var ErrSessionInvalid = errors.New("session invalid or expired")

// ResolveSession returns the identity behind a live session.
func (s *Store) ResolveSession(ctx context.Context, sessionID string) (*domain.Identity, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionInvalid
	}
	ctx, cancel := s.op(ctx)
	defer cancel()

	var sess models.Session
	err := s.conn(ctx).Where("id = ? AND expires_at > ?", sessionID, s.now()).Take(&sess).Error
	if IsNotFound(err) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var u models.User
	if err := s.conn(ctx).Where("id = ?", sess.UserID).Take(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return IdentityOf(u), nil
}

// IdentityOf projects a user row onto an identity.
func IdentityOf(u models.User) *domain.Identity {
	return &domain.Identity{
		UserID:      u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	}
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func displayName(first, last, email string) string {
	switch {
	case first != "" && last != "":
		return first + " " + string([]rune(last)[:1]) + "."
	case first != "":
		return first
	case email != "":
		return strings.SplitN(email, "@", 2)[0]
	default:
		return "Jerky Fan"
	}
}
