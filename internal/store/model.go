package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-customer-cache/customer"
	"github.com/uptrace/bun"
)

type customerRow struct {
	bun.BaseModel `bun:"table:customers"`

	ID              string    `bun:"id,pk"`
	FirstName       string    `bun:"first_name,notnull"`
	LastName        string    `bun:"last_name,notnull"`
	Email           string    `bun:"email,notnull"`
	Phone           string    `bun:"phone,notnull"`
	Address         string    `bun:"address,notnull"`
	AvailableCredit float64   `bun:"available_credit,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

const emailIndex = "customers_email_key"

func rowFrom(c *customer.Customer) *customerRow {
	s := c.Snapshot()
	return &customerRow{
		ID:              s.ID,
		FirstName:       s.FirstName,
		LastName:        s.LastName,
		Email:           s.Email,
		Phone:           s.Phone,
		Address:         s.Address,
		AvailableCredit: s.AvailableCredit,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (r *customerRow) entity() *customer.Customer {
	return customer.Restore(customer.Snapshot{
		ID:              r.ID,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Email:           r.Email,
		Phone:           r.Phone,
		Address:         r.Address,
		AvailableCredit: r.AvailableCredit,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	})
}

// Migrate creates the customers table and its unique email index when they
// do not exist yet.
func Migrate(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*customerRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("store: create customers table: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*customerRow)(nil)).
		Unique().
		IfNotExists().
		Index(emailIndex).
		Column("email").
		Exec(ctx); err != nil {
		return fmt.Errorf("store: create email index: %w", err)
	}
	return nil
}
