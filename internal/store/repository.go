package store

import (
	"context"
	"fmt"

	"github.com/goliatone/go-customer-cache/customer"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Runner executes fn with a borrowed store connection. connection.Manager
// implements it.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error
}

// sortColumns whitelists the columns a listing may be ordered by.
var sortColumns = func() map[customer.SortField]string {
	m := make(map[customer.SortField]string, len(customer.SortFields))
	for _, f := range customer.SortFields {
		m[f] = toSnake(string(f))
	}
	return m
}()

var mutableColumns = []string{
	"first_name",
	"last_name",
	"email",
	"phone",
	"address",
	"available_credit",
	"updated_at",
}

var customerHandlers = repository.ModelHandlers[*customerRow]{
	NewRecord: func() *customerRow { return new(customerRow) },
	GetID: func(r *customerRow) uuid.UUID {
		id, _ := uuid.Parse(r.ID)
		return id
	},
	SetID: func(r *customerRow, id uuid.UUID) {
		if r.ID == "" {
			r.ID = id.String()
		}
	},
	GetIdentifier: func() string { return "email" },
}

// records returns the generic bun repository for customer rows. Every query
// goes through its *Tx methods on the handle the runner lends out.
func records(db bun.IDB) repository.Repository[*customerRow] {
	bdb, _ := db.(*bun.DB)
	return repository.NewRepository[*customerRow](bdb, customerHandlers)
}

func whereColumn(column, value string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("? = ?", bun.Ident(column), value).Limit(1)
	}
}

func orderBy(column, direction string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			OrderExpr("? "+direction, bun.Ident(column)).
			OrderExpr("? "+direction, bun.Ident("id"))
	}
}

// Repository is the authoritative customer.Repository. Reads and inserts run
// through go-repository-bun; updates and deletes use bun queries directly
// because they need the affected row count.
type Repository struct {
	conn Runner
	log  zerolog.Logger
}

var _ customer.Repository = (*Repository)(nil)

// New returns a repository that runs every query through conn.
func New(conn Runner, log zerolog.Logger) *Repository {
	return &Repository{
		conn: conn,
		log:  log.With().Str("component", "store").Logger(),
	}
}

func (r *Repository) FindAll(ctx context.Context, field customer.SortField, order customer.Order) ([]*customer.Customer, error) {
	column, ok := sortColumns[field]
	if !ok {
		return nil, fmt.Errorf("store: unsupported sort field %q", field)
	}
	direction := "DESC"
	switch order {
	case customer.Asc:
		direction = "ASC"
	case customer.Desc:
	default:
		return nil, fmt.Errorf("store: unsupported sort order %q", order)
	}

	var rows []*customerRow
	err := r.conn.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		rows, _, err = records(db).ListTx(ctx, db, orderBy(column, direction))
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*customer.Customer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.entity())
	}
	return out, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	return r.findOne(ctx, "id", id)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	return r.findOne(ctx, "email", email)
}

func (r *Repository) findOne(ctx context.Context, column, value string) (*customer.Customer, error) {
	var row *customerRow
	err := r.conn.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		row, err = lookup(ctx, records(db), db, column, value)
		return err
	})
	if err != nil || row == nil {
		return nil, err
	}
	return row.entity(), nil
}

// lookup returns the row whose column equals value, or nil.
func lookup(ctx context.Context, recs repository.Repository[*customerRow], db bun.IDB, column, value string) (*customerRow, error) {
	rows, _, err := recs.ListTx(ctx, db, whereColumn(column, value))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Create inserts c. An entity without an id gets a fresh UUID.
func (r *Repository) Create(ctx context.Context, c *customer.Customer) (*customer.Customer, error) {
	row := rowFrom(c)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	err := r.conn.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		recs := records(db)
		_, err := recs.CreateTx(ctx, db, row)
		if err == nil {
			return nil
		}
		if mapped := mapWriteError(err, row); mapped != err {
			return mapped
		}
		return r.conflictFor(ctx, recs, db, row, err)
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().Str("id", row.ID).Msg("customer created")
	return row.entity(), nil
}

// conflictFor reports a failed insert as a conflict when a row already holds
// the id or email of row. It covers errors whose driver cause was not kept.
func (r *Repository) conflictFor(ctx context.Context, recs repository.Repository[*customerRow], db bun.IDB, row *customerRow, cause error) error {
	if existing, err := lookup(ctx, recs, db, "email", row.Email); err == nil && existing != nil {
		return &customer.ConflictError{Field: "email", Value: row.Email, Err: cause}
	}
	if existing, err := lookup(ctx, recs, db, "id", row.ID); err == nil && existing != nil {
		return &customer.ConflictError{Field: "id", Value: row.ID, Err: cause}
	}
	return cause
}

// Update writes the mutable attributes of c, refreshing updated_at, and
// returns the stored row. It fails with *customer.NotFoundError when no row
// has c's id. c itself is left untouched.
func (r *Repository) Update(ctx context.Context, c *customer.Customer) (*customer.Customer, error) {
	next := customer.Restore(c.Snapshot())
	next.Touch()
	row := rowFrom(next)

	var out *customerRow
	err := r.conn.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		recs := records(db)
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			res, err := tx.NewUpdate().
				Model(row).
				Column(mutableColumns...).
				WherePK().
				Exec(ctx)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return &customer.NotFoundError{ID: row.ID}
			}

			out, err = lookup(ctx, recs, tx, "id", row.ID)
			if err == nil && out == nil {
				err = &customer.NotFoundError{ID: row.ID}
			}
			return err
		})
	})
	if err != nil {
		return nil, mapWriteError(err, row)
	}

	r.log.Debug().Str("id", row.ID).Msg("customer updated")
	return out.entity(), nil
}

// Delete removes the customer with id and reports whether a row was removed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.conn.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		res, err := db.NewDelete().
			Model((*customerRow)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
