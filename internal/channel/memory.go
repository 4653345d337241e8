package channel

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore is the in-process store implementation. It backs the hosting
// peer directly and remote peers through the websocket gateway. Deliveries to
// each subscriber run on a dedicated goroutine draining an ordered queue, so
// per-path ordering holds even when callbacks are slow.
type MemoryStore struct {
	mu         sync.Mutex
	values     map[string][]byte
	appends    map[string][]appendChild
	valueSubs  map[string]map[uint64]*valueSub
	appendSubs map[string]map[uint64]*appendSub
	nextSub    atomic.Uint64
	nextKey    atomic.Uint64
}

type appendChild struct {
	key   string
	value []byte
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:     make(map[string][]byte),
		appends:    make(map[string][]appendChild),
		valueSubs:  make(map[string]map[uint64]*valueSub),
		appendSubs: make(map[string]map[uint64]*appendSub),
	}
}

// Connect opens a connection whose disconnect hooks fire on Close.
func (s *MemoryStore) Connect() Conn {
	return &memoryConn{store: s, hooks: make(map[uint64]string)}
}

// SubscribeValue implements Store. Registration and the initial delivery
// happen under the store lock so a concurrent Write cannot slip between them
// and get reordered behind the stale initial value.
func (s *MemoryStore) SubscribeValue(path string, fn ValueFunc) Subscription {
	sub := newValueSub(fn)
	sub.path = path
	sub.id = s.nextSub.Add(1)
	sub.store = s

	s.mu.Lock()
	if s.valueSubs[path] == nil {
		s.valueSubs[path] = make(map[uint64]*valueSub)
	}
	s.valueSubs[path][sub.id] = sub
	sub.enqueue(cloneBytes(s.values[path]))
	s.mu.Unlock()
	return sub
}

// SubscribeAppend implements Store. Children appended before subscription
// replay first, in order; the backlog is queued under the store lock so a
// concurrent Append cannot land between replay and registration.
func (s *MemoryStore) SubscribeAppend(path string, fn AppendFunc) Subscription {
	sub := newAppendSub(fn)
	sub.path = path
	sub.id = s.nextSub.Add(1)
	sub.store = s

	s.mu.Lock()
	if s.appendSubs[path] == nil {
		s.appendSubs[path] = make(map[uint64]*appendSub)
	}
	s.appendSubs[path][sub.id] = sub
	for _, child := range s.appends[path] {
		sub.enqueue(child.key, cloneBytes(child.value))
	}
	s.mu.Unlock()
	return sub
}

// Write implements Store. Values are enqueued to subscribers while the store
// lock is held, so two racing writers cannot deliver in the opposite order of
// the stored values. Subscriber queues are unbounded and drained off-lock, so
// holding the lock across enqueue never blocks on a slow callback.
func (s *MemoryStore) Write(path string, value []byte) error {
	s.mu.Lock()
	s.values[path] = cloneBytes(value)
	for _, sub := range s.valueSubsLocked(path) {
		sub.enqueue(cloneBytes(value))
	}
	s.mu.Unlock()
	return nil
}

// Append implements Store. Keys are zero-padded so lexical order matches
// append order. Delivery is enqueued under the store lock for the same
// ordering guarantee Write gives.
func (s *MemoryStore) Append(path string, value []byte) (string, error) {
	key := fmt.Sprintf("k%012d", s.nextKey.Add(1))

	s.mu.Lock()
	s.appends[path] = append(s.appends[path], appendChild{key: key, value: cloneBytes(value)})
	for _, sub := range s.appendSubsLocked(path) {
		sub.enqueue(key, cloneBytes(value))
	}
	s.mu.Unlock()
	return key, nil
}

// Remove implements Store. The path and every descendant vanish; value
// subscribers on removed paths observe nil.
func (s *MemoryStore) Remove(path string) error {
	prefix := path + "/"

	s.mu.Lock()
	removed := make([]string, 0, 1)
	for p := range s.values {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.values, p)
			removed = append(removed, p)
		}
	}
	for p := range s.appends {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.appends, p)
		}
	}
	notify := make([]*valueSub, 0)
	for _, p := range removed {
		notify = append(notify, s.valueSubsLocked(p)...)
	}
	// Subscribers on a never-written path still learn about removal of the
	// exact path they watch.
	if len(removed) == 0 {
		notify = append(notify, s.valueSubsLocked(path)...)
	}
	for _, sub := range notify {
		sub.enqueue(nil)
	}
	s.mu.Unlock()
	return nil
}

// RemoveChild implements Store.
func (s *MemoryStore) RemoveChild(path, key string) error {
	s.mu.Lock()
	children := s.appends[path]
	for i := range children {
		if children[i].key == key {
			s.appends[path] = append(append([]appendChild(nil), children[:i]...), children[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// Read implements Store.
func (s *MemoryStore) Read(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.values[path]), nil
}

func (s *MemoryStore) valueSubsLocked(path string) []*valueSub {
	m := s.valueSubs[path]
	subs := make([]*valueSub, 0, len(m))
	for _, sub := range m {
		subs = append(subs, sub)
	}
	return subs
}

func (s *MemoryStore) appendSubsLocked(path string) []*appendSub {
	m := s.appendSubs[path]
	subs := make([]*appendSub, 0, len(m))
	for _, sub := range m {
		subs = append(subs, sub)
	}
	return subs
}

func (s *MemoryStore) dropValueSub(path string, id uint64) {
	s.mu.Lock()
	if m := s.valueSubs[path]; m != nil {
		delete(m, id)
	}
	s.mu.Unlock()
}

func (s *MemoryStore) dropAppendSub(path string, id uint64) {
	s.mu.Lock()
	if m := s.appendSubs[path]; m != nil {
		delete(m, id)
	}
	s.mu.Unlock()
}

// valueSub drains queued values to its callback on a dedicated goroutine.
type valueSub struct {
	fn       ValueFunc
	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]byte
	canceled bool

	store *MemoryStore
	path  string
	id    uint64
}

func newValueSub(fn ValueFunc) *valueSub {
	sub := &valueSub{fn: fn}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.run()
	return sub
}

func (v *valueSub) enqueue(value []byte) {
	v.mu.Lock()
	if !v.canceled {
		v.queue = append(v.queue, value)
		v.cond.Signal()
	}
	v.mu.Unlock()
}

func (v *valueSub) run() {
	for {
		v.mu.Lock()
		for len(v.queue) == 0 && !v.canceled {
			v.cond.Wait()
		}
		if v.canceled {
			v.mu.Unlock()
			return
		}
		value := v.queue[0]
		v.queue = v.queue[1:]
		v.mu.Unlock()

		v.fn(value)
	}
}

// Cancel implements Subscription.
func (v *valueSub) Cancel() {
	v.mu.Lock()
	v.canceled = true
	v.queue = nil
	v.cond.Signal()
	v.mu.Unlock()
	if v.store != nil {
		v.store.dropValueSub(v.path, v.id)
	}
}

// appendSub mirrors valueSub for append channels.
type appendSub struct {
	fn       AppendFunc
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []appendChild
	canceled bool

	store *MemoryStore
	path  string
	id    uint64
}

func newAppendSub(fn AppendFunc) *appendSub {
	sub := &appendSub{fn: fn}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.run()
	return sub
}

func (a *appendSub) enqueue(key string, value []byte) {
	a.mu.Lock()
	if !a.canceled {
		a.queue = append(a.queue, appendChild{key: key, value: value})
		a.cond.Signal()
	}
	a.mu.Unlock()
}

func (a *appendSub) run() {
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.canceled {
			a.cond.Wait()
		}
		if a.canceled {
			a.mu.Unlock()
			return
		}
		child := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()

		a.fn(child.key, child.value)
	}
}

// Cancel implements Subscription.
func (a *appendSub) Cancel() {
	a.mu.Lock()
	a.canceled = true
	a.queue = nil
	a.cond.Signal()
	a.mu.Unlock()
	if a.store != nil {
		a.store.dropAppendSub(a.path, a.id)
	}
}

// memoryConn scopes disconnect hooks to one client connection.
type memoryConn struct {
	store  *MemoryStore
	mu     sync.Mutex
	hooks  map[uint64]string
	nextID uint64
	closed bool
}

func (c *memoryConn) SubscribeValue(path string, fn ValueFunc) Subscription {
	return c.store.SubscribeValue(path, fn)
}

func (c *memoryConn) SubscribeAppend(path string, fn AppendFunc) Subscription {
	return c.store.SubscribeAppend(path, fn)
}

func (c *memoryConn) Write(path string, value []byte) error { return c.store.Write(path, value) }

func (c *memoryConn) Append(path string, value []byte) (string, error) {
	return c.store.Append(path, value)
}

func (c *memoryConn) Remove(path string) error { return c.store.Remove(path) }

func (c *memoryConn) RemoveChild(path, key string) error { return c.store.RemoveChild(path, key) }

func (c *memoryConn) Read(path string) ([]byte, error) { return c.store.Read(path) }

// OnDisconnectRemove implements Conn.
func (c *memoryConn) OnDisconnectRemove(path string) (Hook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("register disconnect hook: connection closed")
	}
	c.nextID++
	id := c.nextID
	c.hooks[id] = path
	return &memoryHook{conn: c, id: id}, nil
}

// Close implements Conn. Uncanceled hooks each fire exactly once.
func (c *memoryConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	paths := make([]string, 0, len(c.hooks))
	for _, path := range c.hooks {
		paths = append(paths, path)
	}
	c.hooks = nil
	c.mu.Unlock()

	for _, path := range paths {
		c.store.Remove(path)
	}
}

type memoryHook struct {
	conn *memoryConn
	id   uint64
}

// Cancel implements Hook.
func (h *memoryHook) Cancel() {
	h.conn.mu.Lock()
	if h.conn.hooks != nil {
		delete(h.conn.hooks, h.id)
	}
	h.conn.mu.Unlock()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
