// Package async runs background work on a bounded worker pool with panic
// recovery, per-task timeouts and logged failures.
//
//	pool := async.NewWorkerPool(ctx, 4, 64, "alert delivery", 30*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	err := pool.TrySubmit(func(ctx context.Context) error {
//		return deliver(ctx, alert)
//	})
//
// Submit blocks while the queue is full; TrySubmit returns ErrPoolFull
// instead. Both return ErrPoolClosed after Shutdown.
package async
