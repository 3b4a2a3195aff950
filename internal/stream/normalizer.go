// Package stream repairs the event ordering of a provider's streaming response.
package stream

import (
	"context"

	"coda/internal/provider"
)

type partKey struct {
	reasoning bool
	id        string
}

// Normalizer is the ordering state machine for one response. It is not safe
// for concurrent use.
type Normalizer struct {
	open     []partKey
	isOpen   map[partKey]bool
	closed   map[partKey]bool
	finished bool
}

// NewNormalizer returns an empty normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		isOpen: make(map[partKey]bool),
		closed: make(map[partKey]bool),
	}
}

// Finished reports whether a finish event has been seen.
func (n *Normalizer) Finished() bool {
	return n.finished
}

// Push feeds one event and returns the events to emit in its place.
func (n *Normalizer) Push(ev provider.StreamEvent) []provider.StreamEvent {
	switch ev.Type {
	case provider.EventTextStart, provider.EventReasoningStart:
		k := keyOf(ev)
		if n.isOpen[k] {
			return nil
		}
		n.openPart(k)
		return []provider.StreamEvent{ev}

	case provider.EventTextDelta, provider.EventReasoningDelta:
		k := keyOf(ev)
		if n.isOpen[k] {
			return []provider.StreamEvent{ev}
		}
		n.openPart(k)
		return []provider.StreamEvent{startOf(k), ev}

	case provider.EventTextEnd, provider.EventReasoningEnd:
		k := keyOf(ev)
		if n.isOpen[k] {
			n.closePart(k)
			return []provider.StreamEvent{ev}
		}
		if n.closed[k] {
			return nil
		}
		n.closed[k] = true
		return []provider.StreamEvent{startOf(k), ev}

	case provider.EventFinish:
		out := n.closeAll()
		n.finished = true
		return append(out, ev)

	case provider.EventError:
		if provider.IsParserStateError(ev.Err) {
			if n.finished {
				return nil
			}
			ev.Err = &provider.StreamStateError{Err: ev.Err}
		}
		return []provider.StreamEvent{ev}
	}
	return []provider.StreamEvent{ev}
}

// Close is called at end of stream and returns ends for parts left open.
func (n *Normalizer) Close() []provider.StreamEvent {
	return n.closeAll()
}

func (n *Normalizer) openPart(k partKey) {
	n.isOpen[k] = true
	n.open = append(n.open, k)
}

func (n *Normalizer) closePart(k partKey) {
	delete(n.isOpen, k)
	n.closed[k] = true
	for i, o := range n.open {
		if o == k {
			n.open = append(n.open[:i], n.open[i+1:]...)
			break
		}
	}
}

func (n *Normalizer) closeAll() []provider.StreamEvent {
	var out []provider.StreamEvent
	for _, k := range n.open {
		out = append(out, endOf(k))
		delete(n.isOpen, k)
		n.closed[k] = true
	}
	n.open = nil
	return out
}

func keyOf(ev provider.StreamEvent) partKey {
	switch ev.Type {
	case provider.EventReasoningStart, provider.EventReasoningDelta, provider.EventReasoningEnd:
		return partKey{reasoning: true, id: ev.ID}
	}
	return partKey{id: ev.ID}
}

func startOf(k partKey) provider.StreamEvent {
	t := provider.EventTextStart
	if k.reasoning {
		t = provider.EventReasoningStart
	}
	return provider.StreamEvent{Type: t, ID: k.id, Synthetic: true}
}

func endOf(k partKey) provider.StreamEvent {
	t := provider.EventTextEnd
	if k.reasoning {
		t = provider.EventReasoningEnd
	}
	return provider.StreamEvent{Type: t, ID: k.id, Synthetic: true}
}

// Normalize wraps in with a Normalizer. The returned channel is closed when
// in is closed or ctx is done.
func Normalize(ctx context.Context, in <-chan provider.StreamEvent) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent)
	go func() {
		defer close(out)
		n := NewNormalizer()
		emit := func(evs []provider.StreamEvent) bool {
			for _, ev := range evs {
				select {
				case out <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					emit(n.Close())
					return
				}
				if !emit(n.Push(ev)) {
					return
				}
			}
		}
	}()
	return out
}
