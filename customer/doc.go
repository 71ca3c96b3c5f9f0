// Package customer defines the customer entity and the repository contract the
// storage layers implement.
//
// A Customer carries its identity, contact attributes, an available credit
// balance and two timestamps. The balance is guarded by the entity itself:
// AddCredit and UseCredit reject non-positive amounts and UseCredit never lets
// the balance drop below zero. Every mutation refreshes UpdatedAt.
//
// Values cross process boundaries (cache, database) as a Snapshot, which holds
// plain data only. Restore rebuilds a full entity from a Snapshot, including
// identity and timestamps, so behaviour methods are available on values read
// back from any layer:
//
//	c := customer.Restore(snapshot)
//	if err := c.AddCredit(50); err != nil {
//		return err
//	}
//
// # Errors
//
// Repository implementations report a missing id on Update with *NotFoundError
// and a uniqueness violation with *ConflictError. Both match the ErrNotFound and
// ErrConflict sentinels through errors.Is.
package customer
