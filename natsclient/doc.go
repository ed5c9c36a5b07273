// Package natsclient wraps a core NATS connection for telemetry ingestion.
//
// Client adds a circuit breaker in front of connection attempts: after a
// configurable number of consecutive failures Connect fails fast with
// ErrCircuitOpen and the backoff doubles up to a maximum. Once connected,
// reconnection is left to nats.go and reported through callbacks.
//
// Handlers receive the concrete subject of each message, so a wildcard
// subscription such as "telemetry.>" can still route by subject:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithLogger(logger),
//		natsclient.WithReconnectCallback(onReconnect),
//	)
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	err = client.Subscribe(ctx, "telemetry.>", func(ctx context.Context, subject string, data []byte) {
//		...
//	})
//
// TestClient starts a NATS container through testcontainers-go for tests
// that need a real server; they run only when INTEGRATION_TESTS is set.
package natsclient
