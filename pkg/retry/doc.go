// Package retry runs an operation with exponential backoff.
//
// drillstream only retries at start-up: opening the database and connecting
// to the telemetry bus. The ingest path never retries; a failed reading is
// logged and dropped.
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return db.PingContext(ctx)
//	})
//
// Presets:
//
//   - DefaultConfig: 3 attempts, 100ms to 5s
//   - Quick: 10 attempts, 50ms to 1s
//   - Persistent: 30 attempts, 200ms to 10s
//
// Wrap an error with NonRetryable to stop immediately, for example when the
// configured DSN cannot be parsed.
package retry
