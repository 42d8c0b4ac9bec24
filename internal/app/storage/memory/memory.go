package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	tips        map[string]tip.Tip
	tipsByNonce map[string]string // sender|nonce -> tip id
	users       map[string]account.User
	devices     map[string][]account.Device // user id -> devices
}

var _ storage.TipStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.DeviceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tips:        make(map[string]tip.Tip),
		tipsByNonce: make(map[string]string),
		users:       make(map[string]account.User),
		devices:     make(map[string][]account.Device),
	}
}

func nonceKey(senderID, nonce string) string {
	return senderID + "|" + nonce
}

// --- TipStore ---------------------------------------------------------------

func (s *Store) CreateTip(_ context.Context, t tip.Tip) (tip.Tip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nonceKey(t.SenderID, t.Nonce)
	if _, exists := s.tipsByNonce[key]; exists {
		return tip.Tip{}, storage.ErrDuplicateTip
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	s.tips[t.ID] = t
	s.tipsByNonce[key] = t.ID
	return t, nil
}

func (s *Store) UpdateTip(_ context.Context, t tip.Tip, expected tip.Status) (tip.Tip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tips[t.ID]
	if !ok {
		return tip.Tip{}, storage.ErrNotFound
	}
	if existing.Status != expected || !existing.UpdatedAt.Equal(t.UpdatedAt) {
		return tip.Tip{}, storage.ErrConflict
	}

	// Identity, parties and amounts are immutable once created.
	t.SenderID = existing.SenderID
	t.ReceiverID = existing.ReceiverID
	t.Nonce = existing.Nonce
	t.Amount = existing.Amount
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = nextVersion(existing.UpdatedAt)

	s.tips[t.ID] = t
	return t, nil
}

func (s *Store) GetTip(_ context.Context, id string) (tip.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tips[id]
	if !ok {
		return tip.Tip{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ExistsBySenderNonce(_ context.Context, senderID, nonce string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tipsByNonce[nonceKey(senderID, nonce)]
	return ok, nil
}

func (s *Store) GetTipBySenderNonce(_ context.Context, senderID, nonce string) (tip.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tipsByNonce[nonceKey(senderID, nonce)]
	if !ok {
		return tip.Tip{}, storage.ErrNotFound
	}
	return s.tips[id], nil
}

func (s *Store) GetTipByPaymentIntent(_ context.Context, paymentIntentID string) (tip.Tip, error) {
	return s.findTip(func(t tip.Tip) bool { return paymentIntentID != "" && t.PaymentIntentID == paymentIntentID })
}

func (s *Store) GetTipByCharge(_ context.Context, chargeID string) (tip.Tip, error) {
	return s.findTip(func(t tip.Tip) bool { return chargeID != "" && t.ChargeID == chargeID })
}

func (s *Store) findTip(match func(tip.Tip) bool) (tip.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tips {
		if match(t) {
			return t, nil
		}
	}
	return tip.Tip{}, storage.ErrNotFound
}

func (s *Store) ListTipsReceivedOn(_ context.Context, receiverID, localDate string) ([]tip.Tip, error) {
	return s.listTips(func(t tip.Tip) bool {
		return t.ReceiverID == receiverID && t.CreatedAtLocalDate == localDate
	}, false, 0), nil
}

func (s *Store) ListTipsSentBetween(_ context.Context, senderID, startDate, endDate string) ([]tip.Tip, error) {
	return s.listTips(func(t tip.Tip) bool {
		return t.SenderID == senderID && t.CreatedAtLocalDate >= startDate && t.CreatedAtLocalDate <= endDate
	}, false, 0), nil
}

// nextVersion returns a write timestamp strictly after prev.
func nextVersion(prev time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func (s *Store) ListPendingTips(_ context.Context, createdBefore time.Time, after storage.PendingCursor, limit int) ([]tip.Tip, error) {
	return s.listTips(func(t tip.Tip) bool {
		if t.Status != tip.StatusPending || t.PaymentIntentID == "" || !t.CreatedAt.Before(createdBefore) {
			return false
		}
		if after.IsZero() {
			return true
		}
		return t.CreatedAt.After(after.CreatedAt) || (t.CreatedAt.Equal(after.CreatedAt) && t.ID > after.ID)
	}, true, limit), nil
}

func (s *Store) CountOrphanedTips(_ context.Context, createdBefore time.Time) (int, error) {
	return len(s.listTips(func(t tip.Tip) bool {
		return t.Status == tip.StatusPending && t.PaymentIntentID == "" && t.CreatedAt.Before(createdBefore)
	}, true, 0)), nil
}

// listTips returns matches newest first, or oldest first when ascending.
func (s *Store) listTips(match func(tip.Tip) bool, ascending bool, limit int) []tip.Tip {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []tip.Tip
	for _, t := range s.tips {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt) == ascending
		}
		return (out[i].ID < out[j].ID) == ascending
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) SenderDisputeStats(_ context.Context, senderID string) (storage.DisputeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats storage.DisputeStats
	for _, t := range s.tips {
		if t.SenderID != senderID {
			continue
		}
		stats.Total++
		if t.Status == tip.StatusDisputed {
			stats.Disputed++
		}
	}
	return stats, nil
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u account.User) (account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return account.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByProcessorAccount(_ context.Context, accountID string) (account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if accountID != "" && u.ProcessorAccountID == accountID {
			return u, nil
		}
	}
	return account.User{}, storage.ErrNotFound
}

func (s *Store) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateProcessorLinks(_ context.Context, u account.User) (account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return account.User{}, storage.ErrNotFound
	}
	existing.ProcessorAccountID = u.ProcessorAccountID
	existing.Onboarded = u.Onboarded
	existing.ProcessorCustomerID = u.ProcessorCustomerID
	existing.DefaultPaymentMethodID = u.DefaultPaymentMethodID
	existing.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = existing
	return existing, nil
}

func (s *Store) SuspendUser(_ context.Context, userID, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if u.Suspended {
		return false, nil
	}
	at = at.UTC()
	u.Suspended = true
	u.SuspensionReason = reason
	u.SuspendedAt = &at
	u.UpdatedAt = at
	s.users[userID] = u
	return true, nil
}

// --- DeviceStore ------------------------------------------------------------

func (s *Store) ListDevices(_ context.Context, userID string) ([]account.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := s.devices[userID]
	out := make([]account.Device, len(devices))
	copy(out, devices)
	return out, nil
}

func (s *Store) UpsertDevice(_ context.Context, d account.Device) (account.Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	devices := s.devices[d.UserID]
	for i, existing := range devices {
		if bytes.Equal(existing.PublicKey, d.PublicKey) {
			if d.Name != "" {
				existing.Name = d.Name
			}
			existing.IsActive = true
			existing.LastSeen = now
			devices[i] = existing
			return existing, false, nil
		}
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.IsActive = true
	d.LastSeen = now
	d.CreatedAt = now
	s.devices[d.UserID] = append(devices, d)
	return d, true, nil
}

func (s *Store) DeactivateDevicesByPrefix(_ context.Context, userID, prefix string, keepKey []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	devices := s.devices[userID]
	for i, d := range devices {
		if !d.IsActive || !strings.HasPrefix(d.Name, prefix) || bytes.Equal(d.PublicKey, keepKey) {
			continue
		}
		devices[i].IsActive = false
		count++
	}
	return count, nil
}
