package customer

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

var (
	// ErrInvalidAmount is returned when a credit operation receives a non-positive amount.
	ErrInvalidAmount = errors.New("customer: credit amount must be positive")
	// ErrInsufficientCredit is returned when UseCredit would take the balance below zero.
	ErrInsufficientCredit = errors.New("customer: insufficient credit")
	// ErrInvalidEmail is returned by UpdateEmail for malformed addresses.
	ErrInvalidEmail = errors.New("customer: invalid email format")
)

// Fields holds the caller supplied attributes of a customer.
type Fields struct {
	ID              string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Address         string
	AvailableCredit float64
}

// Validate checks the attribute rules owned by the entity.
func (f Fields) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.FirstName, validation.Required),
		validation.Field(&f.LastName, validation.Required),
		validation.Field(&f.Email, validation.Required, is.EmailFormat),
		validation.Field(&f.Phone, validation.Required),
		validation.Field(&f.Address, validation.Required),
		validation.Field(&f.AvailableCredit, validation.Min(0.0)),
	)
}

// Snapshot is the plain data form of a Customer. It is what gets written to the
// cache and what the store maps rows into; Restore turns it back into an entity.
type Snapshot struct {
	ID              string    `json:"id" msgpack:"id"`
	FirstName       string    `json:"firstName" msgpack:"firstName"`
	LastName        string    `json:"lastName" msgpack:"lastName"`
	Email           string    `json:"email" msgpack:"email"`
	Phone           string    `json:"phone" msgpack:"phone"`
	Address         string    `json:"address" msgpack:"address"`
	AvailableCredit float64   `json:"availableCredit" msgpack:"availableCredit"`
	CreatedAt       time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

// Fields returns the attributes of the snapshot, keeping its ID.
func (s Snapshot) Fields() Fields {
	return Fields{
		ID:              s.ID,
		FirstName:       s.FirstName,
		LastName:        s.LastName,
		Email:           s.Email,
		Phone:           s.Phone,
		Address:         s.Address,
		AvailableCredit: s.AvailableCredit,
	}
}

// Customer is the domain entity. A value is owned by whoever holds it; the
// repositories hand out fresh copies on every read.
type Customer struct {
	id              string
	firstName       string
	lastName        string
	email           string
	phone           string
	address         string
	availableCredit float64
	createdAt       time.Time
	updatedAt       time.Time
}

// New validates the fields and builds a customer, generating an ID when none is given.
func New(f Fields) (*Customer, error) {
	f.Email = strings.TrimSpace(f.Email)
	if err := f.Validate(); err != nil {
		return nil, err
	}

	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := now()

	return &Customer{
		id:              id,
		firstName:       f.FirstName,
		lastName:        f.LastName,
		email:           f.Email,
		phone:           f.Phone,
		address:         f.Address,
		availableCredit: f.AvailableCredit,
		createdAt:       ts,
		updatedAt:       ts,
	}, nil
}

// Restore rebuilds a customer from a snapshot, keeping identity and timestamps.
func Restore(s Snapshot) *Customer {
	return &Customer{
		id:              s.ID,
		firstName:       s.FirstName,
		lastName:        s.LastName,
		email:           s.Email,
		phone:           s.Phone,
		address:         s.Address,
		availableCredit: s.AvailableCredit,
		createdAt:       s.CreatedAt.UTC(),
		updatedAt:       s.UpdatedAt.UTC(),
	}
}

// Snapshot returns the plain data form of the customer.
func (c *Customer) Snapshot() Snapshot {
	return Snapshot{
		ID:              c.id,
		FirstName:       c.firstName,
		LastName:        c.lastName,
		Email:           c.email,
		Phone:           c.phone,
		Address:         c.address,
		AvailableCredit: c.availableCredit,
		CreatedAt:       c.createdAt,
		UpdatedAt:       c.updatedAt,
	}
}

func (c *Customer) ID() string { return c.id }
func (c *Customer) FirstName() string { return c.firstName }
func (c *Customer) LastName() string { return c.lastName }
func (c *Customer) Email() string { return c.email }
func (c *Customer) Phone() string { return c.phone }
func (c *Customer) Address() string { return c.address }
func (c *Customer) AvailableCredit() float64 { return c.availableCredit }
func (c *Customer) CreatedAt() time.Time { return c.createdAt }
func (c *Customer) UpdatedAt() time.Time { return c.updatedAt }

func (c *Customer) UpdateFirstName(v string) {
	c.firstName = v
	c.touch()
}

func (c *Customer) UpdateLastName(v string) {
	c.lastName = v
	c.touch()
}

func (c *Customer) UpdatePhone(v string) {
	c.phone = v
	c.touch()
}

func (c *Customer) UpdateAddress(v string) {
	c.address = v
	c.touch()
}

// UpdateEmail replaces the email after a format check.
func (c *Customer) UpdateEmail(v string) error {
	v = strings.TrimSpace(v)
	if err := validation.Validate(v, validation.Required, is.EmailFormat); err != nil {
		return ErrInvalidEmail
	}
	c.email = v
	c.touch()
	return nil
}

// AddCredit increases the available credit by a positive amount.
func (c *Customer) AddCredit(amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	c.availableCredit += amount
	c.touch()
	return nil
}

// UseCredit decreases the available credit. The balance never goes below zero.
func (c *Customer) UseCredit(amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if c.availableCredit < amount {
		return ErrInsufficientCredit
	}
	c.availableCredit -= amount
	c.touch()
	return nil
}

// Touch marks the customer as modified now. Stores call it on every write so
// updatedAt moves even when no attribute changed.
func (c *Customer) Touch() { c.touch() }

// touch refreshes updatedAt, keeping it strictly increasing.
func (c *Customer) touch() {
	t := now()
	if !t.After(c.updatedAt) {
		t = c.updatedAt.Add(time.Microsecond)
	}
	c.updatedAt = t
}

// now is truncated to microseconds, the finest precision the stores keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
