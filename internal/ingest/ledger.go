package ingest

// Ledger remembers remote message identifiers already fetched in this process.
// It is owned by a single adapter goroutine and is not safe for concurrent use.
type Ledger[K comparable] struct {
	seen map[K]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger[K comparable]() *Ledger[K] {
	return &Ledger[K]{seen: make(map[K]struct{})}
}

// Seen reports whether id was marked before.
func (l *Ledger[K]) Seen(id K) bool {
	_, ok := l.seen[id]
	return ok
}

// Mark records id. Marking twice is a no-op.
func (l *Ledger[K]) Mark(id K) {
	l.seen[id] = struct{}{}
}

// Filter returns the ids not yet marked, preserving order and dropping
// duplicates within ids.
func (l *Ledger[K]) Filter(ids []K) []K {
	var out []K
	batch := make(map[K]struct{}, len(ids))
	for _, id := range ids {
		if l.Seen(id) {
			continue
		}
		if _, dup := batch[id]; dup {
			continue
		}
		batch[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Len returns the number of marked ids.
func (l *Ledger[K]) Len() int {
	return len(l.seen)
}
