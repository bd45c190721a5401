package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/quota"
)

const (
	memoryCleanupInterval = 5 * time.Minute
	expiredWindowGrace    = 10 * time.Minute
)

// Memory is the in-process backend. A single mutex guards every
// read-modify-write, which gives the same atomicity as the serializable
// Postgres transaction. It is suitable for a single instance (dev, tests)
// only: nothing synchronizes counts across processes.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	idemTTL     time.Duration
	keys        map[uuid.UUID]*model.APIKey
	byHash      map[string]uuid.UUID
	windows     map[windowKey]*windowEntry
	records     map[recordKey]*idemRecord
	lastCleanup time.Time
}

type windowKey struct {
	keyID uuid.UUID
	kind  quota.Kind
	start int64
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

type recordKey struct {
	keyID     uuid.UUID
	requestID string
}

type idemRecord struct {
	decision    model.Decision
	cost        int
	refunded    bool
	minuteStart time.Time
	dayStart    time.Time
	expiresAt   time.Time
}

// NewMemory creates an in-memory store. idemTTL is how long an idempotency
// record keeps serving replays.
func NewMemory(idemTTL time.Duration) *Memory {
	return &Memory{
		now:         time.Now,
		idemTTL:     idemTTL,
		keys:        make(map[uuid.UUID]*model.APIKey),
		byHash:      make(map[string]uuid.UUID),
		windows:     make(map[windowKey]*windowEntry),
		records:     make(map[recordKey]*idemRecord),
		lastCleanup: time.Now(),
	}
}

// --- KeyStore ---

func (m *Memory) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key.ID = uuid.New()
	key.CreatedAt = now
	key.UpdatedAt = now

	stored := *key
	m.keys[key.ID] = &stored
	m.byHash[key.KeyHash] = key.ID
	return nil
}

func (m *Memory) GetAPIKeyByHash(_ context.Context, keyHash string) (*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	key, ok := m.keys[id]
	if !ok || key.Status != model.StatusActive {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (m *Memory) GetAPIKeyByID(_ context.Context, id uuid.UUID) (*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (m *Memory) ListAPIKeys(_ context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*model.APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		cp := *key
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	offset := (page - 1) * perPage
	if offset >= total {
		return nil, total, nil
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *Memory) CountAPIKeys(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys), nil
}

func (m *Memory) UpdateAPIKeyLimits(_ context.Context, id uuid.UUID, updates KeyUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	if updates.Name != nil {
		key.Name = *updates.Name
	}
	if updates.Owner != nil {
		key.Owner = *updates.Owner
	}
	if updates.RequestsPerMinute != nil {
		key.RequestsPerMinute = *updates.RequestsPerMinute
	}
	if updates.RequestsPerDay != nil {
		key.RequestsPerDay = *updates.RequestsPerDay
	}
	key.UpdatedAt = m.now()
	return nil
}

func (m *Memory) UpdateAPIKeyStatus(_ context.Context, id uuid.UUID, status model.APIKeyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Status = status
	key.UpdatedAt = m.now()
	return nil
}

func (m *Memory) RotateAPIKey(_ context.Context, id uuid.UUID, keyHash, keyPrefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	// Old hash stops resolving in the same step the new one starts.
	delete(m.byHash, key.KeyHash)
	key.KeyHash = keyHash
	key.KeyPrefix = keyPrefix
	key.UpdatedAt = m.now()
	m.byHash[keyHash] = id
	return nil
}

// --- QuotaStore ---

func (m *Memory) Consume(_ context.Context, key *model.APIKey, requestID string, cost int) (*model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rk := recordKey{keyID: key.ID, requestID: requestID}

	if rec, ok := m.records[rk]; ok {
		if rec.expiresAt.After(now) {
			cp := rec.decision
			return &cp, nil
		}
		delete(m.records, rk)
	}

	minuteWin := quota.For(now, quota.Minute)
	dayWin := quota.For(now, quota.Day)

	minute := quota.Evaluate(quota.Minute, minuteWin,
		m.windowCountLocked(key.ID, quota.Minute, minuteWin, now), key.RequestsPerMinute, cost)
	day := quota.Evaluate(quota.Day, dayWin,
		m.windowCountLocked(key.ID, quota.Day, dayWin, now), key.RequestsPerDay, cost)

	var decision *model.Decision
	charged := 0
	if minute.Exceeded || day.Exceeded {
		decision = quota.Deny(quota.ChooseExceeded(minute, day))
	} else {
		decision = quota.Allow(quota.ChooseMostRestrictive(minute, day))
		charged = cost
		m.setWindowLocked(key.ID, minute)
		m.setWindowLocked(key.ID, day)
	}

	m.records[rk] = &idemRecord{
		decision:    *decision,
		cost:        charged,
		minuteStart: minuteWin.Start,
		dayStart:    dayWin.Start,
		expiresAt:   now.Add(m.idemTTL),
	}

	m.cleanupLocked(now)
	cp := *decision
	return &cp, nil
}

func (m *Memory) Refund(_ context.Context, key *model.APIKey, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.records[recordKey{keyID: key.ID, requestID: requestID}]
	if !ok || rec.refunded || rec.cost == 0 || !rec.expiresAt.After(now) {
		return false, nil
	}

	m.decrementWindowLocked(key.ID, quota.Minute, rec.minuteStart, rec.cost, now)
	m.decrementWindowLocked(key.ID, quota.Day, rec.dayStart, rec.cost, now)
	rec.refunded = true

	m.cleanupLocked(now)
	return true, nil
}

func (m *Memory) Usage(_ context.Context, key *model.APIKey) (*model.UsageSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snapshot := &model.UsageSnapshot{}

	for _, kind := range []quota.Kind{quota.Minute, quota.Day} {
		win := quota.For(now, kind)
		count := m.windowCountLocked(key.ID, kind, win, now)

		limit := key.RequestsPerMinute
		if kind == quota.Day {
			limit = key.RequestsPerDay
		}
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		usage := model.WindowUsage{Used: count, Remaining: remaining, ResetAt: win.ResetAt}
		if kind == quota.Minute {
			snapshot.Minute = usage
		} else {
			snapshot.Day = usage
		}
	}
	return snapshot, nil
}

// windowCountLocked returns the live count for a window, treating a bucket
// whose reset has passed as absent so an expired window can never re-trigger
// accounting.
func (m *Memory) windowCountLocked(keyID uuid.UUID, kind quota.Kind, win quota.Window, now time.Time) int {
	wk := windowKey{keyID: keyID, kind: kind, start: win.Start.Unix()}
	entry, ok := m.windows[wk]
	if !ok || now.After(entry.resetAt) {
		return 0
	}
	return entry.count
}

func (m *Memory) setWindowLocked(keyID uuid.UUID, o quota.Outcome) {
	wk := windowKey{keyID: keyID, kind: o.Kind, start: o.Window.Start.Unix()}
	m.windows[wk] = &windowEntry{count: o.NewCount, resetAt: o.Window.ResetAt}
}

func (m *Memory) decrementWindowLocked(keyID uuid.UUID, kind quota.Kind, start time.Time, cost int, now time.Time) {
	wk := windowKey{keyID: keyID, kind: kind, start: start.Unix()}
	entry, ok := m.windows[wk]
	if !ok || now.After(entry.resetAt) {
		// The charged bucket has already rolled away.
		return
	}
	entry.count -= cost
	if entry.count < 0 {
		entry.count = 0
	}
}

func (m *Memory) cleanupLocked(now time.Time) {
	if now.Sub(m.lastCleanup) < memoryCleanupInterval {
		return
	}

	for wk, entry := range m.windows {
		if now.After(entry.resetAt.Add(expiredWindowGrace)) {
			delete(m.windows, wk)
		}
	}
	for rk, rec := range m.records {
		if now.After(rec.expiresAt) {
			delete(m.records, rk)
		}
	}

	m.lastCleanup = now
}
