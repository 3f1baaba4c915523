// Package scheduler runs batches of test cases against a shared environment,
// one batch at a time, and schedules reruns in a final pass.
package scheduler

import "github.com/me/tickbatch/internal/batch"

// BatchListener observes batch boundaries.
type BatchListener interface {
	BatchStarting(b *batch.Batch)
	BatchFinished(b *batch.Batch)
}

// BatchListenerFuncs adapts optional functions to BatchListener.
type BatchListenerFuncs struct {
	Starting func(b *batch.Batch)
	Finished func(b *batch.Batch)
}

func (f BatchListenerFuncs) BatchStarting(b *batch.Batch) {
	if f.Starting != nil {
		f.Starting(b)
	}
}

func (f BatchListenerFuncs) BatchFinished(b *batch.Batch) {
	if f.Finished != nil {
		f.Finished(b)
	}
}
