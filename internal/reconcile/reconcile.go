// Package reconcile feeds a client's local mirror from two independent
// sources: pushed change notifications and a periodic full-snapshot poll.
// Both funnel into one channel so the consumer applies them one at a time.
package reconcile

import (
	"context"
	"errors"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
)

// DefaultInterval is the poll cadence clients fall back to.
const DefaultInterval = 3 * time.Second

// Event is one input for the consumer. Exactly one field is set. Err is a
// failed poll; the next tick retries.
type Event[S any] struct {
	Change   *feed.Change
	Snapshot *S
	Err      error
}

// Run forwards sub's notifications and a poll result every interval into
// out until ctx is done. sub may be nil when subscribing failed; polling
// alone then keeps the mirror current. Run does not close out.
func Run[S any](ctx context.Context, sub *feed.Subscription, poll func(context.Context) (S, error), every time.Duration, out chan<- Event[S]) error {
	if every <= 0 {
		every = DefaultInterval
	}
	g, gctx := errgroup.WithContext(ctx)

	if sub != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case c, ok := <-sub.C:
					if !ok {
						// Subscription torn down under us; polling continues.
						return nil
					}
					if !send(gctx, out, Event[S]{Change: &c}) {
						return nil
					}
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}

			snap, err := poll(gctx)
			ev := Event[S]{Snapshot: &snap}
			if err != nil {
				if errors.Is(err, context.Canceled) && gctx.Err() != nil {
					return nil
				}
				ev = Event[S]{Err: err}
			}
			if !send(gctx, out, ev) {
				return nil
			}
		}
	})

	return g.Wait()
}

func send[S any](ctx context.Context, out chan<- Event[S], ev Event[S]) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Newer reports whether a record at revision incoming may overwrite a local
// copy at revision local. Equal revisions are accepted so that a local
// optimistic edit is replaced by the stored record it was meant to produce.
func Newer(local, incoming int64) bool {
	return incoming >= local
}

// Replace overwrites *local with incoming when incoming is not older and
// differs from it. It reports whether *local changed.
func Replace[T any](local *T, incoming T, localRev, incomingRev int64) bool {
	if !Newer(localRev, incomingRev) {
		return false
	}
	if reflect.DeepEqual(*local, incoming) {
		return false
	}
	*local = incoming
	return true
}
