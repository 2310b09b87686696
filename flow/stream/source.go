package stream

import "context"

// Source is a pull iterator over stream items. Next returns the next item,
// or ok=false when the source is exhausted. A non-nil error aborts the
// stream.
type Source interface {
	Next(ctx context.Context) (interface{}, bool, error)
}

// SliceSource yields the elements of a slice in order.
type SliceSource struct {
	items []interface{}
	pos   int
}

// NewSliceSource wraps a fixed item list.
func NewSliceSource(items ...interface{}) *SliceSource {
	return &SliceSource{items: items}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (interface{}, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.pos >= len(s.items) {
		return nil, false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return item, true, nil
}

// ChanSource yields items from a channel until it closes.
type ChanSource struct {
	ch <-chan interface{}
}

// NewChanSource wraps a channel producer.
func NewChanSource(ch <-chan interface{}) *ChanSource {
	return &ChanSource{ch: ch}
}

// Next implements Source.
func (s *ChanSource) Next(ctx context.Context) (interface{}, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case item, ok := <-s.ch:
		if !ok {
			return nil, false, nil
		}
		return item, true, nil
	}
}

// FuncSource adapts a closure to a Source.
type FuncSource func(ctx context.Context) (interface{}, bool, error)

// Next implements Source.
func (f FuncSource) Next(ctx context.Context) (interface{}, bool, error) {
	return f(ctx)
}
