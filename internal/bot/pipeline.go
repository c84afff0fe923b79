package bot

import "context"

// outcome pairs a mapped value with its error.
type outcome[R any] struct {
	value R
	err   error
}

// mapOrdered applies fn to items with at most window calls in flight,
// delivering outcomes in input order regardless of completion order.
// The producer must close items; cancelling ctx abandons the pipeline
// and unblocks both sides.
func mapOrdered[T, R any](ctx context.Context, items <-chan T, window int, fn func(context.Context, T) (R, error)) <-chan outcome[R] {
	slots := make(chan chan outcome[R], window)

	go func() {
		defer close(slots)
		for item := range items {
			slot := make(chan outcome[R], 1)
			select {
			case slots <- slot:
			case <-ctx.Done():
				return
			}
			go func(item T) {
				v, err := fn(ctx, item)
				slot <- outcome[R]{value: v, err: err}
			}(item)
		}
	}()

	out := make(chan outcome[R])
	go func() {
		defer close(out)
		for slot := range slots {
			select {
			case o := <-slot:
				select {
				case out <- o:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
