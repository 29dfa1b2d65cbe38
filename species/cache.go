package species

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/petermattis/goid"
)

// ---------------------------------------------------------------------------
// Cache: at-most-one construction per key
// ---------------------------------------------------------------------------
//
// A key's slot moves Empty -> Building(reservation) -> Resolved(value).
// The first caller stores a reservation with LoadOrStore and builds; every
// other caller that sees the reservation waits on its done channel and
// re-reads the slot. A failed build deletes the reservation (only if it is
// still the one in the slot) so the next request starts over.

type reservation struct {
	id    uuid.UUID
	owner int64
	done  chan struct{}
	err   error // written before done is closed
}

// newReservation creates a reservation owned by the calling goroutine.
// Its id ties together the debug log lines of one build attempt.
func newReservation() *reservation {
	return &reservation{id: uuid.New(), owner: goid.Get(), done: make(chan struct{})}
}

func (r *reservation) String() string { return "reservation " + r.id.String() }

// Cache maps keys to lazily built values. The zero value is ready to use.
type Cache[K comparable, V any] struct {
	m sync.Map
}

// Get returns the value for key if it has been built.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	v, ok := c.m.Load(key)
	if !ok {
		return zero, false
	}
	if _, building := v.(*reservation); building {
		return zero, false
	}
	return v.(V), true
}

// FindOrCreate returns the value for key, running build at most once per
// key across concurrent callers. Callers that lose the race block until
// the winner finishes and then observe its value or its error. A build
// error is not cached: a later call builds again.
func (c *Cache[K, V]) FindOrCreate(key K, build func(K) (V, error)) (V, error) {
	var zero V
	for {
		v, ok := c.m.Load(key)
		if !ok {
			tok := newReservation()
			if v, ok = c.m.LoadOrStore(key, tok); !ok {
				log.Debugf("%s: building %v on goroutine %d", tok, key, tok.owner)
				return c.construct(key, tok, build)
			}
		}
		tok, building := v.(*reservation)
		if !building {
			return v.(V), nil
		}
		if tok.owner == goid.Get() {
			return zero, internalErr("FindOrCreate", "recursive request for %v while building it (%s)", key, tok)
		}
		log.Debugf("%s: waiting for %v", tok, key)
		<-tok.done
		if tok.err != nil {
			return zero, fmt.Errorf("waiting for %v: %w", key, tok.err)
		}
	}
}

func (c *Cache[K, V]) construct(key K, tok *reservation, build func(K) (V, error)) (v V, err error) {
	finished := false
	defer func() {
		if !finished {
			// build panicked; free the key before the panic continues.
			c.abandon(key, tok, internalErr("FindOrCreate", "build for %v panicked", key))
		}
	}()

	v, err = build(key)
	finished = true
	if err != nil {
		c.abandon(key, tok, err)
		var zero V
		return zero, err
	}
	if !c.m.CompareAndSwap(key, tok, v) {
		err = internalErr("FindOrCreate", "%s for %v was replaced while building", tok, key)
		tok.err = err
		close(tok.done)
		var zero V
		return zero, err
	}
	close(tok.done)
	log.Debugf("%s: resolved %v", tok, key)
	return v, nil
}

func (c *Cache[K, V]) abandon(key K, tok *reservation, err error) {
	c.m.CompareAndDelete(key, tok)
	tok.err = err
	close(tok.done)
	log.Debugf("%s: abandoned %v: %s", tok, key, err)
}

// Len returns the number of built values.
func (c *Cache[K, V]) Len() int {
	n := 0
	c.Range(func(K, V) bool { n++; return true })
	return n
}

// Range calls fn for every built value until fn returns false. Keys still
// being built are skipped.
func (c *Cache[K, V]) Range(fn func(K, V) bool) {
	c.m.Range(func(k, v any) bool {
		if _, building := v.(*reservation); building {
			return true
		}
		return fn(k.(K), v.(V))
	})
}
