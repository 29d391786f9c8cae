package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

// MemoryOrderRepository implements the order contract without a database. It
// backs tests and DB-less runs; the guarded Transition has the same
// at-most-once semantics as the SQL version.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{nextID: 1, orders: make(map[int64]*models.Order)}
}

func (r *MemoryOrderRepository) Create(ctx context.Context, o *models.Order) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *o
	cp.ID = r.nextID
	r.nextID++
	if cp.Status == "" {
		cp.Status = models.StatusPending
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.orders[cp.ID] = &cp
	o.ID = cp.ID
	return cp.ID, nil
}

func (r *MemoryOrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) findOne(match func(*models.Order) bool) (*models.Order, error) {
	var best *models.Order
	for _, o := range r.orders {
		if match(o) && (best == nil || o.ID > best.ID) {
			best = o
		}
	}
	if best == nil {
		return nil, sql.ErrNoRows
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryOrderRepository) GetByTempID(ctx context.Context, tempID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOne(func(o *models.Order) bool { return tempID != "" && o.TempID == tempID })
}

func (r *MemoryOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOne(func(o *models.Order) bool { return sessionID != "" && o.SessionID == sessionID })
}

func (r *MemoryOrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOne(func(o *models.Order) bool { return paymentID != "" && o.PaymentID == paymentID })
}

func (r *MemoryOrderRepository) findAll(match func(*models.Order) bool, limit int) []*models.Order {
	var out []*models.Order
	for _, o := range r.orders {
		if match(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryOrderRepository) FindUnattachedSince(ctx context.Context, since time.Time, limit int) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findAll(func(o *models.Order) bool {
		return o.SessionID == "" && !o.CreatedAt.Before(since)
	}, limit), nil
}

func (r *MemoryOrderRepository) FindUnattachedByEmail(ctx context.Context, email string, limit int) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findAll(func(o *models.Order) bool {
		return o.SessionID == "" && o.Customer.Email == email
	}, limit), nil
}

func (r *MemoryOrderRepository) FindLatestPendingByEmail(ctx context.Context, email string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := r.findAll(func(o *models.Order) bool {
		return o.Customer.Email == email && o.Status == models.StatusPending
	}, 1)
	if len(matches) == 0 {
		return nil, sql.ErrNoRows
	}
	return matches[0], nil
}

func (r *MemoryOrderRepository) UpdateCheckout(ctx context.Context, id int64, upd models.CheckoutUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return sql.ErrNoRows
	}
	if upd.TempID != "" {
		o.TempID = upd.TempID
	}
	o.SessionID = upd.SessionID
	o.CheckoutURL = upd.CheckoutURL
	o.OriginalAmount = upd.OriginalAmount
	o.PointsUsed = upd.PointsUsed
	o.PointsDiscount = upd.PointsDiscount
	o.FinalAmount = upd.FinalAmount
	o.Customer = upd.Customer
	o.MemberID = upd.MemberID
	if upd.Cart != nil {
		o.Cart = upd.Cart
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryOrderRepository) Transition(ctx context.Context, id int64, from []models.PaymentStatus, to models.PaymentStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return 0, nil
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			o.UpdatedAt = time.Now()
			return 1, nil
		}
	}
	return 0, nil
}

func (r *MemoryOrderRepository) MarkCallbackReceived(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(o *models.Order) { o.CallbackReceivedAt = &at })
}

func (r *MemoryOrderRepository) SetPendingReason(ctx context.Context, id int64, reason string) error {
	return r.update(id, func(o *models.Order) { o.PendingReason = reason })
}

func (r *MemoryOrderRepository) SetCompleted(ctx context.Context, id int64, paymentID string, at time.Time) error {
	return r.update(id, func(o *models.Order) {
		if paymentID != "" {
			o.PaymentID = paymentID
		}
		o.CompletedAt = &at
		o.PendingReason = ""
	})
}

func (r *MemoryOrderRepository) SetFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	return r.update(id, func(o *models.Order) {
		o.FailureReason = reason
		o.FailedAt = &at
	})
}

func (r *MemoryOrderRepository) update(id int64, apply func(*models.Order)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return sql.ErrNoRows
	}
	apply(o)
	o.UpdatedAt = time.Now()
	return nil
}

// MemoryMemberRepository keeps point balances in memory.
type MemoryMemberRepository struct {
	mu      sync.Mutex
	members map[int64]*models.Member
}

func NewMemoryMemberRepository(members ...*models.Member) *MemoryMemberRepository {
	r := &MemoryMemberRepository{members: make(map[int64]*models.Member)}
	for _, m := range members {
		cp := *m
		r.members[cp.ID] = &cp
	}
	return r
}

func (r *MemoryMemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryMemberRepository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.Email == email {
			cp := *m
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *MemoryMemberRepository) AdjustPoints(ctx context.Context, memberID int64, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return sql.ErrNoRows
	}
	if m.Points+delta < 0 {
		return fmt.Errorf("points adjustment of %d rejected for member %d", delta, memberID)
	}
	m.Points += delta
	return nil
}

// MemoryTempStore mirrors the redis temp-checkout store.
type MemoryTempStore struct {
	mu      sync.Mutex
	entries map[string]*models.TempCheckout
}

func NewMemoryTempStore() *MemoryTempStore {
	return &MemoryTempStore{entries: make(map[string]*models.TempCheckout)}
}

func (s *MemoryTempStore) SaveTempCheckout(ctx context.Context, tc *models.TempCheckout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tc
	s.entries[tc.TempID] = &cp
	return nil
}

func (s *MemoryTempStore) GetTempCheckout(ctx context.Context, tempID string) (*models.TempCheckout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.entries[tempID]
	if !ok {
		return nil, ErrTempNotFound
	}
	cp := *tc
	return &cp, nil
}

func (s *MemoryTempStore) DeleteTempCheckout(ctx context.Context, tempID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tempID)
	return nil
}

// MemoryLocker is a process-local stand-in for the redis lock.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]bool)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] {
		return false, nil
	}
	l.locks[key] = true
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
}
