package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// TicketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after their TTL. Each ticket carries
// the identity of the caller that requested it.
type TicketStore struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	identity  *auth.Identity
	expiresAt time.Time
}

// NewTicketStore creates an empty store.
func NewTicketStore(ttl time.Duration) *TicketStore {
	return &TicketStore{
		ttl:     ttl,
		now:     time.Now,
		tickets: make(map[string]ticketEntry),
	}
}

// Issue creates a ticket bound to id.
func (t *TicketStore) Issue(id *auth.Identity) (string, time.Duration) {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{identity: id, expiresAt: t.now().Add(t.ttl)}
	t.mu.Unlock()
	return ticket, t.ttl
}

// Redeem consumes a ticket and returns its identity. A ticket is removed on
// first use whether or not it has expired.
func (t *TicketStore) Redeem(ticket string) (*auth.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return nil, false
	}
	delete(t.tickets, ticket)

	if !t.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.identity, true
}

// Len returns the number of pending tickets.
func (t *TicketStore) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

// sweep removes expired tickets from the store.
func (t *TicketStore) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// Run sweeps expired tickets periodically until the context is cancelled.
func (t *TicketStore) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
