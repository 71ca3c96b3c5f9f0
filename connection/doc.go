// Package connection supervises the process wide connection to the
// authoritative store.
//
// A Manager connects with exponential backoff, hands out pooled connections
// through a bounded gate, pings the store in the background and publishes
// lifecycle events (connected, disconnected, reconnected, error,
// connectionFailed) to any number of subscribers:
//
//	m := connection.New(connection.SQLDriver{}, connection.DefaultOptions(),
//		connection.WithLogger(logger))
//	if err := m.Connect(ctx, "postgres://app@db/customers", connection.DefaultPoolConfig()); err != nil {
//		return err
//	}
//	defer m.Disconnect(context.Background())
//
//	events, cancel := m.Subscribe(8)
//	defer cancel()
//
// Read and write paths only see a binary signal: Do either runs against a
// live connection or fails with ErrNotConnected or ErrPoolTimeout.
package connection
