package store

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
)

// SourceKey is where the editor text lives.
const SourceKey = "eventloop.source"

// DefaultSource is served until something has been saved. It touches every
// queue: sync output, a timer that queues a microtask, and a continuation that
// queues a timer. Its console reads 1, 4, 7, 5, 2, 3, 6.
const DefaultSource = `console.log('1 - sync');
setTimeout(() => {
  console.log('2 - macrotask setTimeout (0ms)');
  Promise.resolve().then(() => {
    console.log('3 - microtask Promise.then (inside setTimeout)');
  });
}, 0);
new Promise(resolve => {
  console.log('4 - sync Promise executor');
  resolve();
}).then(() => {
  console.log('5 - microtask Promise.then');
  setTimeout(() => {
    console.log('6 - macrotask setTimeout (inside Promise.then)');
  }, 0);
});
console.log('7 - sync');`

// Sources persists the editor text on top of a Store.
type Sources struct {
	store   Store
	metrics *monitoring.Metrics
}

// NewSources wraps store. metrics may be nil.
func NewSources(store Store, metrics *monitoring.Metrics) *Sources {
	return &Sources{store: store, metrics: metrics}
}

// Load returns the saved text, or DefaultSource when nothing has been saved.
func (s *Sources) Load(ctx context.Context) (string, error) {
	timer := monitoring.NewTimer(s.metrics, "store", "load")
	text, err := s.store.Get(ctx, SourceKey)
	if errors.Is(err, ErrNotFound) {
		timer.Stop("default")
		return DefaultSource, nil
	}
	timer.StopErr(err)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Save replaces the saved text.
func (s *Sources) Save(ctx context.Context, text string) error {
	timer := monitoring.NewTimer(s.metrics, "store", "save")
	err := s.store.Put(ctx, SourceKey, text)
	timer.StopErr(err)
	return err
}

// Restore drops the saved text so Load serves DefaultSource again.
func (s *Sources) Restore(ctx context.Context) error {
	timer := monitoring.NewTimer(s.metrics, "store", "restore")
	err := s.store.Delete(ctx, SourceKey)
	timer.StopErr(err)
	return err
}
