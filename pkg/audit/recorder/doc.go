// Package recorder subscribes to an engine and persists every dispatched
// violation as an audit event.
//
// Recording is asynchronous. Events are queued in a bounded channel and a
// single worker writes them in batches, one transaction per batch. When the
// queue is full new events are dropped and counted rather than slowing down
// evaluation. Close drains the queue before returning.
//
//	rec, err := recorder.New(store, recorder.DefaultConfig(),
//	    recorder.WithMetrics(collector))
//	if err != nil {
//	    return err
//	}
//	rec.Attach(eng)
//	defer rec.Close()
package recorder
