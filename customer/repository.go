package customer

import (
	"context"
	"fmt"
	"strings"
)

// SortField names an attribute a listing can be ordered by.
type SortField string

const (
	SortByCreatedAt       SortField = "createdAt"
	SortByUpdatedAt       SortField = "updatedAt"
	SortByAvailableCredit SortField = "availableCredit"
	SortByFirstName       SortField = "firstName"
	SortByLastName        SortField = "lastName"
	SortByEmail           SortField = "email"
)

// SortFields lists every supported sort field.
var SortFields = []SortField{
	SortByCreatedAt,
	SortByUpdatedAt,
	SortByAvailableCredit,
	SortByFirstName,
	SortByLastName,
	SortByEmail,
}

// Order is the direction of a sorted listing.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Orders lists both directions.
var Orders = []Order{Asc, Desc}

const (
	DefaultSortField = SortByCreatedAt
	DefaultOrder     = Desc
)

// ParseSortField maps user input to a SortField. Empty input yields DefaultSortField.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return DefaultSortField, nil
	}
	for _, f := range SortFields {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("customer: unsupported sort field %q", s)
}

// ParseOrder maps user input to an Order. Empty input yields DefaultOrder.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultOrder, nil
	case "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", fmt.Errorf("customer: unsupported sort order %q", s)
	}
}

// Repository is the persistence contract for customers. Both the store backed
// implementation and the caching decorator satisfy it.
//
// FindByID and FindByEmail return (nil, nil) when nothing matches. Update fails
// with a *NotFoundError for an unknown id, while Delete reports a missing id as
// (false, nil).
type Repository interface {
	FindAll(ctx context.Context, sortBy SortField, order Order) ([]*Customer, error)
	FindByID(ctx context.Context, id string) (*Customer, error)
	FindByEmail(ctx context.Context, email string) (*Customer, error)
	Create(ctx context.Context, c *Customer) (*Customer, error)
	Update(ctx context.Context, c *Customer) (*Customer, error)
	Delete(ctx context.Context, id string) (bool, error)
}
