// Package service holds the customer use cases. Each method is one unit of
// work over a customer.Repository, usually the cached decorator.
package service

import (
	"context"
	"fmt"

	"github.com/goliatone/go-customer-cache/customer"
	"github.com/goliatone/go-customer-cache/repositorycache"
	"github.com/rs/zerolog"
)

// Patch lists the attributes an update may change. Nil fields are left as is.
type Patch struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Address   *string
}

// Customers runs the customer use cases against repo.
type Customers struct {
	repo customer.Repository
	log  zerolog.Logger
}

// NewCustomers returns the use cases bound to repo.
func NewCustomers(repo customer.Repository, log zerolog.Logger) *Customers {
	return &Customers{
		repo: repo,
		log:  log.With().Str("component", "service").Logger(),
	}
}

// Create registers a new customer. The email must not be in use.
func (s *Customers) Create(ctx context.Context, f customer.Fields) (*customer.Customer, error) {
	s.log.Info().Str("email", f.Email).Msg("creating customer")

	c, err := customer.New(f)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByEmail(ctx, c.Email())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Warn().Str("email", c.Email()).Msg("email already registered")
		return nil, &customer.ConflictError{Field: "email", Value: c.Email()}
	}

	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("id", created.ID()).Msg("customer created")
	return created, nil
}

// Get returns the customer with id or a *customer.NotFoundError.
func (s *Customers) Get(ctx context.Context, id string) (*customer.Customer, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &customer.NotFoundError{ID: id}
	}
	return c, nil
}

// List returns every customer ordered by field and order.
func (s *Customers) List(ctx context.Context, field customer.SortField, order customer.Order) ([]*customer.Customer, error) {
	list, err := s.repo.FindAll(ctx, field, order)
	if err != nil {
		return nil, err
	}
	s.log.Debug().
		Str("field", string(field)).
		Str("order", string(order)).
		Int("count", len(list)).
		Msg("customers listed")
	return list, nil
}

// SortedByCredit lists customers by available credit. An empty order means
// descending.
func (s *Customers) SortedByCredit(ctx context.Context, order customer.Order) ([]*customer.Customer, error) {
	if order == "" {
		order = customer.Desc
	}
	return s.List(ctx, customer.SortByAvailableCredit, order)
}

// Update applies p to the customer with id. Changing the email to one held
// by another customer fails with a *customer.ConflictError.
func (s *Customers) Update(ctx context.Context, id string, p Patch) (*customer.Customer, error) {
	return s.mutate(ctx, id, "update", func(ctx context.Context, c *customer.Customer) error {
		if p.Email != nil && *p.Email != c.Email() {
			other, err := s.repo.FindByEmail(ctx, *p.Email)
			if err != nil {
				return err
			}
			if other != nil && other.ID() != c.ID() {
				return &customer.ConflictError{Field: "email", Value: *p.Email}
			}
			if err := c.UpdateEmail(*p.Email); err != nil {
				return err
			}
		}
		if p.FirstName != nil {
			c.UpdateFirstName(*p.FirstName)
		}
		if p.LastName != nil {
			c.UpdateLastName(*p.LastName)
		}
		if p.Phone != nil {
			c.UpdatePhone(*p.Phone)
		}
		if p.Address != nil {
			c.UpdateAddress(*p.Address)
		}
		return c.Snapshot().Fields().Validate()
	})
}

// AddCredit increases the customer's balance by amount.
func (s *Customers) AddCredit(ctx context.Context, id string, amount float64) (*customer.Customer, error) {
	return s.mutate(ctx, id, "add credit", func(_ context.Context, c *customer.Customer) error {
		return c.AddCredit(amount)
	})
}

// UseCredit decreases the customer's balance by amount. It fails with
// customer.ErrInsufficientCredit rather than going below zero.
func (s *Customers) UseCredit(ctx context.Context, id string, amount float64) (*customer.Customer, error) {
	return s.mutate(ctx, id, "use credit", func(_ context.Context, c *customer.Customer) error {
		return c.UseCredit(amount)
	})
}

// Delete removes the customer and reports whether it existed.
func (s *Customers) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		s.log.Warn().Str("id", id).Msg("customer not found for deletion")
		return false, nil
	}
	s.log.Info().Str("id", id).Msg("customer deleted")
	return true, nil
}

// mutate loads the customer bypassing cached copies, applies fn and stores
// the result.
func (s *Customers) mutate(ctx context.Context, id, action string, fn func(context.Context, *customer.Customer) error) (*customer.Customer, error) {
	c, err := s.Get(repositorycache.WithFreshRead(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, c); err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg(action + " rejected")
		return nil, err
	}

	updated, err := s.repo.Update(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, id, err)
	}
	s.log.Info().
		Str("id", id).
		Float64("availableCredit", updated.AvailableCredit()).
		Msg(action + " done")
	return updated, nil
}
