package protocol

// maxSeenMessages bounds the host's message-id memory. The inbox is drained
// after processing, so redelivery windows are short; a window this wide only
// has to outlast in-flight retries, not the session.
const maxSeenMessages = 1024

// messageDedupe remembers the most recent message ids so at-least-once inbox
// delivery stays idempotent without growing for the life of a session. Oldest
// ids are evicted first.
type messageDedupe struct {
	limit int
	seen  map[string]struct{}
	order []string
}

func newMessageDedupe(limit int) *messageDedupe {
	if limit < 1 {
		limit = 1
	}
	return &messageDedupe{
		limit: limit,
		seen:  make(map[string]struct{}, limit),
	}
}

// Observe records an id and reports whether it was already present.
func (d *messageDedupe) Observe(id string) bool {
	if _, dup := d.seen[id]; dup {
		return true
	}
	if len(d.order) >= d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}
