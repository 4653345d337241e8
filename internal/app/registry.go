package app

import (
	"fmt"
	"sync"
	"time"

	"storyloom/server/internal/channel"
	"storyloom/server/internal/protocol"
	"storyloom/server/internal/snapshot"
	"storyloom/server/logging"
)

// Registry tracks the sessions this process hosts. One process may host many
// sessions; each gets its own store connection so its disconnect hooks are
// scoped to its own lifetime.
type Registry struct {
	store     *channel.MemoryStore
	snapshots *snapshot.Store
	publisher logging.Publisher

	mu    sync.Mutex
	hosts map[int64]*protocol.Host
}

// NewRegistry creates an empty registry.
func NewRegistry(store *channel.MemoryStore, snapshots *snapshot.Store, publisher logging.Publisher) *Registry {
	return &Registry{
		store:     store,
		snapshots: snapshots,
		publisher: publisher,
		hosts:     make(map[int64]*protocol.Host),
	}
}

// Create opens a new hosted session and returns its id.
func (r *Registry) Create(title string) (int64, error) {
	sessionID := time.Now().UnixMilli()

	r.mu.Lock()
	for {
		if _, taken := r.hosts[sessionID]; !taken {
			break
		}
		sessionID++
	}
	r.hosts[sessionID] = nil // reserve
	r.mu.Unlock()

	host, err := protocol.NewHost(r.store.Connect(), title, protocol.HostConfig{
		SessionID: sessionID,
		Publisher: r.publisher,
		Snapshots: r.snapshots,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.hosts, sessionID)
		r.mu.Unlock()
		return 0, err
	}
	host.Start()

	r.mu.Lock()
	r.hosts[sessionID] = host
	r.mu.Unlock()

	r.snapshots.SavePreference(snapshot.Preference{
		SessionID: sessionID,
		Role:      snapshot.RoleHost,
	})
	return sessionID, nil
}

// Resume restores a previously hosted session from its snapshot or the live
// store document.
func (r *Registry) Resume(sessionID int64) error {
	r.mu.Lock()
	if existing, ok := r.hosts[sessionID]; ok && existing != nil {
		r.mu.Unlock()
		return nil
	}
	r.hosts[sessionID] = nil
	r.mu.Unlock()

	host, err := protocol.ResumeHost(r.store.Connect(), protocol.HostConfig{
		SessionID: sessionID,
		Publisher: r.publisher,
		Snapshots: r.snapshots,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.hosts, sessionID)
		r.mu.Unlock()
		return err
	}
	host.Start()

	r.mu.Lock()
	r.hosts[sessionID] = host
	r.mu.Unlock()

	r.snapshots.SavePreference(snapshot.Preference{
		SessionID: sessionID,
		Role:      snapshot.RoleHost,
	})
	return nil
}

// Host returns the running host for a session.
func (r *Registry) Host(sessionID int64) (*protocol.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	host, ok := r.hosts[sessionID]
	if !ok || host == nil {
		return nil, fmt.Errorf("session %d is not hosted here", sessionID)
	}
	return host, nil
}

// Delete tears a session down permanently.
func (r *Registry) Delete(sessionID int64) error {
	r.mu.Lock()
	host, ok := r.hosts[sessionID]
	delete(r.hosts, sessionID)
	r.mu.Unlock()

	if !ok || host == nil {
		return fmt.Errorf("session %d is not hosted here", sessionID)
	}
	host.DeleteSession()
	return nil
}

// Close stops every running host without deleting session data.
func (r *Registry) Close() {
	r.mu.Lock()
	hosts := r.hosts
	r.hosts = map[int64]*protocol.Host{}
	r.mu.Unlock()

	for _, host := range hosts {
		if host != nil {
			host.Close()
		}
	}
}
