package membership

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"github.com/ManuelReschke/PurchaseDesk/app/repository"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for the three repositories. It reports
// missing rows as gorm.ErrRecordNotFound like the GORM implementations.
type memStore struct {
	mu      sync.Mutex
	users   map[uint]*models.User
	types   map[uint]*models.MembershipType
	records map[uint]*models.MembershipRecord
	nextID  uint
	created time.Time
	calls   []string
	// fail returns an error to inject for a call, or nil.
	fail func(method string, userID uint) error
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[uint]*models.User{},
		types:   map[uint]*models.MembershipType{},
		records: map[uint]*models.MembershipRecord{},
		nextID:  100,
		created: testNow.Add(-365 * 24 * time.Hour),
	}
}

func (s *memStore) repos() *repository.Repositories {
	return &repository.Repositories{
		User:             memUsers{s},
		MembershipType:   memTypes{s},
		MembershipRecord: memRecords{s},
	}
}

func (s *memStore) record(method string, userID uint) error {
	s.calls = append(s.calls, method)
	if s.fail != nil {
		return s.fail(method, userID)
	}
	return nil
}

func (s *memStore) addUser(id uint) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: id, Name: "user", Email: "user@example.com", Status: models.STATUS_ACTIVE}
	s.users[id] = u
	return u
}

func (s *memStore) addType(t models.MembershipType) *models.MembershipType {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.types[t.ID] = &cp
	return &cp
}

// addRecord inserts a record directly, bypassing the engine.
func (s *memStore) addRecord(userID, typeID uint, state string, start, end time.Time) *models.MembershipRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.created = s.created.Add(time.Minute)
	r := &models.MembershipRecord{
		ID:               s.nextID,
		UserID:           userID,
		MembershipTypeID: typeID,
		StartAt:          start,
		EndAt:            end,
		State:            state,
		CreatedAt:        s.created,
	}
	s.records[r.ID] = r
	return r
}

func (s *memStore) setPointer(userID uint, recordID *uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].ActiveMembershipID = recordID
}

func (s *memStore) get(id uint) models.MembershipRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memStore) user(id uint) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memStore) recordsOf(userID uint) []models.MembershipRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MembershipRecord
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) activeOf(userID uint) []models.MembershipRecord {
	var out []models.MembershipRecord
	for _, r := range s.recordsOf(userID) {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *memStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, u *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m memUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("GetUser", id); err != nil {
		return nil, err
	}
	u, ok := m.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	if u.ActiveMembershipID != nil {
		v := *u.ActiveMembershipID
		cp.ActiveMembershipID = &v
	}
	return &cp, nil
}

func (m memUsers) SetActiveMembership(_ context.Context, userID uint, recordID *uint) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("SetActiveMembership", userID); err != nil {
		return err
	}
	u, ok := m.s.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if recordID == nil {
		u.ActiveMembershipID = nil
		return nil
	}
	v := *recordID
	u.ActiveMembershipID = &v
	return nil
}

type memTypes struct{ s *memStore }

func (m memTypes) Create(_ context.Context, t *models.MembershipType) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *t
	m.s.types[t.ID] = &cp
	return nil
}

func (m memTypes) GetByID(_ context.Context, id uint) (*models.MembershipType, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("GetType", 0); err != nil {
		return nil, err
	}
	t, ok := m.s.types[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (m memTypes) List(_ context.Context) ([]models.MembershipType, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("ListTypes", 0); err != nil {
		return nil, err
	}
	out := make([]models.MembershipType, 0, len(m.s.types))
	for _, t := range m.s.types {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceCents != out[j].PriceCents {
			return out[i].PriceCents < out[j].PriceCents
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memRecords struct{ s *memStore }

func (m memRecords) GetByID(_ context.Context, id uint) (*models.MembershipRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m memRecords) ListByUserID(_ context.Context, userID uint) ([]models.MembershipRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("ListByUserID", userID); err != nil {
		return nil, err
	}
	var out []models.MembershipRecord
	for _, r := range m.s.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memRecords) Create(_ context.Context, rec *models.MembershipRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("Create", rec.UserID); err != nil {
		return err
	}
	m.s.nextID++
	m.s.created = m.s.created.Add(time.Minute)
	rec.ID = m.s.nextID
	rec.CreatedAt = m.s.created
	cp := *rec
	m.s.records[rec.ID] = &cp
	return nil
}

func (m memRecords) UpdateState(_ context.Context, id uint, state string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.records[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if err := m.s.record("UpdateState", r.UserID); err != nil {
		return err
	}
	r.State = state
	if state != models.MembershipStateExpired {
		r.ExpiredAt = nil
	}
	return nil
}

func (m memRecords) Renew(_ context.Context, id uint, start, end time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.records[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if err := m.s.record("Renew", r.UserID); err != nil {
		return err
	}
	r.StartAt = start
	r.EndAt = end
	r.State = models.MembershipStateActive
	r.ExpiredAt = nil
	return nil
}

func (m memRecords) DeactivateActive(_ context.Context, userID, exceptID uint) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("DeactivateActive", userID); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range m.s.records {
		if r.UserID == userID && r.IsActive() && r.ID != exceptID {
			r.State = models.MembershipStateInactive
			n++
		}
	}
	return n, nil
}

func (m memRecords) ExpireOverdue(_ context.Context, now time.Time) (int64, []uint, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("ExpireOverdue", 0); err != nil {
		return 0, nil, err
	}
	var n int64
	seen := map[uint]bool{}
	var users []uint
	for _, r := range m.s.records {
		if r.IsActive() && r.IsExpiredAt(now) {
			r.State = models.MembershipStateExpired
			ts := now
			r.ExpiredAt = &ts
			n++
			if !seen[r.UserID] {
				seen[r.UserID] = true
				users = append(users, r.UserID)
			}
		}
	}
	return n, users, nil
}

func (m memRecords) ListUserIDsWithStalePointer(_ context.Context, now time.Time) ([]uint, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.record("ListUserIDsWithStalePointer", 0); err != nil {
		return nil, err
	}
	var ids []uint
	for _, u := range m.s.users {
		if u.ActiveMembershipID == nil {
			continue
		}
		r, ok := m.s.records[*u.ActiveMembershipID]
		if !ok || r.UserID != u.ID || !r.IsValidAt(now) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// Catalog used across the engine tests.
const (
	freeTypeID    uint = 1
	proTypeID     uint = 2
	premiumTypeID uint = 3
	legacyTypeID  uint = 9
)

func seedCatalog(s *memStore) {
	s.addType(models.MembershipType{ID: freeTypeID, Name: "Free", Slug: "free", PriceCents: 0, DurationMonths: 0, MaxProviders: 2, MaxItems: 50, MaxLists: 3})
	s.addType(models.MembershipType{ID: proTypeID, Name: "Pro", Slug: "pro", PriceCents: 990, DurationMonths: 1, MaxProviders: 10, MaxItems: 1000, MaxLists: models.Unlimited})
	s.addType(models.MembershipType{ID: premiumTypeID, Name: "Premium", Slug: "premium", PriceCents: 1990, DurationMonths: 12, MaxProviders: models.Unlimited, MaxItems: models.Unlimited, MaxLists: models.Unlimited, AdvancedFeatures: true})
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memStore) {
	t.Helper()
	s := newMemStore()
	seedCatalog(s)
	base := []Option{WithClock(func() time.Time { return testNow }), WithDefaultPlan(freeTypeID)}
	return NewEngine(s.repos(), append(base, opts...)...), s
}

// requireInvariants checks single-active and pointer consistency for a user.
func requireInvariants(t *testing.T, s *memStore, userID uint, now time.Time) {
	t.Helper()
	active := s.activeOf(userID)
	require.LessOrEqual(t, len(active), 1, "more than one active record for user %d", userID)

	u := s.user(userID)
	if u.ActiveMembershipID == nil {
		return
	}
	s.mu.Lock()
	r, ok := s.records[*u.ActiveMembershipID]
	s.mu.Unlock()
	require.True(t, ok, "pointer references a missing record")
	require.Equal(t, userID, r.UserID)
	require.True(t, r.IsValidAt(now), "pointer references record %d in state %s ending %s", r.ID, r.State, r.EndAt)
}

func ptr(v uint) *uint { return &v }

func tptr(v time.Time) *time.Time { return &v }

type spyScheduler struct {
	mu    sync.Mutex
	users []uint
}

func (s *spyScheduler) ScheduleRepair(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	return nil
}
