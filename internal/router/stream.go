package router

import (
	"context"
	"iter"
)

// Stream returns a lazy sequence of the events decoded from one
// connection's frames. Iteration ends when frames is closed, ctx is done,
// or the consumer stops. Frames that fail to decode are passed to onDrop
// (which may be nil) and skipped.
func Stream(ctx context.Context, frames <-chan Frame, onDrop func(*ParseError)) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}

				ev, perr := decode(f.Data)
				if perr != nil {
					if onDrop != nil {
						onDrop(perr)
					}
					continue
				}

				if !yield(ev) {
					return
				}
			}
		}
	}
}
