// Package memory keeps leads and users in process memory. It backs unit
// tests and local runs without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phbpx/leadtrack"
)

// Store implements leadtrack.LeadStore and leadtrack.UserStore. Transactions
// are serialised by a single mutex and rolled back by restoring a copy of the
// lead data taken when they began.
type Store struct {
	mu      sync.Mutex
	leads   map[string]leadtrack.Lead
	history map[string][]leadtrack.EditHistoryEntry
	order   map[string]int
	next    int

	usersMu sync.RWMutex
	users   map[string]leadtrack.User

	err error
}

func NewStore() *Store {
	return &Store{
		leads:   make(map[string]leadtrack.Lead),
		history: make(map[string][]leadtrack.EditHistoryEntry),
		order:   make(map[string]int),
		users:   make(map[string]leadtrack.User),
	}
}

// WithError makes every later lead call return err. Nil clears it.
func (s *Store) WithError(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx leadtrack.LeadTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	leads := make(map[string]leadtrack.Lead, len(s.leads))
	for k, v := range s.leads {
		leads[k] = v
	}
	history := make(map[string][]leadtrack.EditHistoryEntry, len(s.history))
	for k, v := range s.history {
		history[k] = append([]leadtrack.EditHistoryEntry(nil), v...)
	}

	if err := fn(ctx, &tx{s: s}); err != nil {
		s.leads = leads
		s.history = history
		return err
	}
	return nil
}

func (s *Store) Lead(_ context.Context, id string) (leadtrack.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return leadtrack.Lead{}, s.err
	}

	l, ok := s.leads[id]
	if !ok {
		return leadtrack.Lead{}, leadtrack.ErrLeadNotFound
	}
	l = s.expand(l)
	l.EditHistory = append([]leadtrack.EditHistoryEntry(nil), s.history[id]...)
	return l, nil
}

func (s *Store) Leads(_ context.Context, filter leadtrack.LeadFilter) ([]leadtrack.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	out := []leadtrack.Lead{}
	for _, l := range s.leads {
		if matches(l, filter) {
			out = append(out, s.expand(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	return out, nil
}

func (s *Store) StatusCounts(_ context.Context, filter leadtrack.LeadFilter) (map[leadtrack.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	counts := make(map[leadtrack.Status]int)
	for _, l := range s.leads {
		if matches(l, filter) {
			counts[l.Status]++
		}
	}
	return counts, nil
}

// Len returns the number of stored leads.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

func (s *Store) expand(l leadtrack.Lead) leadtrack.Lead {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	if u, ok := s.users[l.CreatedBy.ID]; ok {
		l.CreatedBy = u.Ref()
	}
	return l
}

func matches(l leadtrack.Lead, f leadtrack.LeadFilter) bool {
	if f.CreatedBy != "" && l.CreatedBy.ID != f.CreatedBy {
		return false
	}
	if !f.From.IsZero() && l.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && l.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// =============================================================================
// Users

func (s *Store) User(_ context.Context, id string) (leadtrack.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return leadtrack.User{}, leadtrack.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (leadtrack.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return leadtrack.User{}, leadtrack.ErrUserNotFound
}

func (s *Store) UsersByRole(_ context.Context, role leadtrack.Role) ([]leadtrack.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	out := []leadtrack.User{}
	for _, u := range s.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SaveUser(_ context.Context, user leadtrack.User) (leadtrack.User, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	for id, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			user.ID = id
			user.CreatedAt = u.CreatedAt
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user, nil
}

// =============================================================================
// Transaction

type tx struct {
	s *Store
}

func (t *tx) LockIdentifiers(context.Context, string, string) error {
	return nil
}

func (t *tx) FindConflict(_ context.Context, pan, nationalID string, from, to time.Time) (*leadtrack.Lead, error) {
	var found []leadtrack.Lead
	for _, l := range t.s.leads {
		if l.PANNumber != pan && l.NationalID != nationalID {
			continue
		}
		if l.CreatedAt.Before(from) || l.CreatedAt.After(to) {
			continue
		}
		found = append(found, l)
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.Slice(found, func(i, j int) bool {
		return t.s.order[found[i].ID] < t.s.order[found[j].ID]
	})
	l := t.s.expand(found[0])
	return &l, nil
}

func (t *tx) CreateLead(_ context.Context, lead leadtrack.Lead) error {
	lead.CreatedBy = leadtrack.UserRef{ID: lead.CreatedBy.ID}
	lead.EditHistory = nil
	t.s.next++
	t.s.order[lead.ID] = t.s.next
	t.s.leads[lead.ID] = lead
	return nil
}

func (t *tx) LeadForUpdate(_ context.Context, id string) (leadtrack.Lead, error) {
	l, ok := t.s.leads[id]
	if !ok {
		return leadtrack.Lead{}, leadtrack.ErrLeadNotFound
	}
	return l, nil
}

func (t *tx) UpdateLead(_ context.Context, lead leadtrack.Lead) error {
	old, ok := t.s.leads[lead.ID]
	if !ok {
		return leadtrack.ErrLeadNotFound
	}
	lead.CreatedBy = old.CreatedBy
	lead.CreatedAt = old.CreatedAt
	lead.Source = old.Source
	lead.EditHistory = nil
	t.s.leads[lead.ID] = lead
	return nil
}

func (t *tx) AppendHistory(_ context.Context, leadID string, entry leadtrack.EditHistoryEntry) error {
	if _, ok := t.s.leads[leadID]; !ok {
		return leadtrack.ErrLeadNotFound
	}
	t.s.history[leadID] = append(t.s.history[leadID], entry)
	return nil
}

func (t *tx) DeleteLead(_ context.Context, id string) error {
	if _, ok := t.s.leads[id]; !ok {
		return leadtrack.ErrLeadNotFound
	}
	delete(t.s.leads, id)
	delete(t.s.history, id)
	delete(t.s.order, id)
	return nil
}
