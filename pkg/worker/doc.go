// Package worker provides a generic bounded worker pool.
//
// Submit never blocks: when the queue is full the item is rejected with
// ErrQueueFull and counted as dropped, which keeps a slow consumer from
// stalling the producer. Stop closes the queue and lets workers drain what
// was already accepted.
//
//	pool := worker.NewPool(4, 1024, func(ctx context.Context, m Message) error {
//		return handle(ctx, m)
//	}, worker.WithMetricsRegistry[Message](registry, "ingest"))
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
package worker
