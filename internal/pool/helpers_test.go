package pool_test

import (
	"context"
	"sync"
	"time"

	"github.com/hqzhang/indexhunter/internal/models"
)

// fakeMirror is an in-memory stand-in for the cache mirror, covering the
// snapshot, ban, usage and sync surfaces the pool components consume.
type fakeMirror struct {
	mu             sync.Mutex
	accounts       map[string]models.CookieFields
	status         map[string]*models.AccountStatus
	bans           map[string]time.Time
	usage          map[string]map[string]int64
	availableCount int64
	failAll        bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		accounts: make(map[string]models.CookieFields),
		status:   make(map[string]*models.AccountStatus),
		bans:     make(map[string]time.Time),
		usage:    make(map[string]map[string]int64),
	}
}

type fakeMirrorError struct{}

func (fakeMirrorError) Error() string { return "mirror unavailable" }

func (f *fakeMirror) AllAccounts(ctx context.Context) (map[string]models.CookieFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fakeMirrorError{}
	}
	out := make(map[string]models.CookieFields, len(f.accounts))
	for id, fields := range f.accounts {
		out[id] = fields
	}
	return out, nil
}

func (f *fakeMirror) ListAccountIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.accounts))
	for id := range f.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMirror) GetStatus(ctx context.Context, accountID string) (*models.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.status[accountID]; ok {
		copied := *status
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeMirror) SetStatus(ctx context.Context, accountID string, available, permBanned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[accountID] = &models.AccountStatus{IsAvailable: available, IsPermanentlyBanned: permBanned}
	return nil
}

func (f *fakeMirror) GetBanInfo(ctx context.Context, accountID string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if until, ok := f.bans[accountID]; ok {
		return &until, nil
	}
	return nil, nil
}

func (f *fakeMirror) SetBanInfo(ctx context.Context, accountID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans[accountID] = until
	return nil
}

func (f *fakeMirror) ClearBanInfo(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bans, accountID)
	return nil
}

func (f *fakeMirror) SaveAccount(ctx context.Context, acct *models.CookieAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acct.AccountID] = acct.Fields
	f.status[acct.AccountID] = &models.AccountStatus{
		IsAvailable:         acct.IsAvailable,
		IsPermanentlyBanned: acct.IsPermanentlyBanned,
	}
	if acct.TempBanUntil != nil {
		f.bans[acct.AccountID] = *acct.TempBanUntil
	} else {
		delete(f.bans, acct.AccountID)
	}
	return nil
}

func (f *fakeMirror) DeleteAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, accountID)
	delete(f.status, accountID)
	delete(f.bans, accountID)
	return nil
}

func (f *fakeMirror) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = make(map[string]models.CookieFields)
	f.status = make(map[string]*models.AccountStatus)
	f.bans = make(map[string]time.Time)
	f.availableCount = 0
	return nil
}

func (f *fakeMirror) SetAvailableCount(ctx context.Context, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availableCount = n
	return nil
}

func (f *fakeMirror) AvailableCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.availableCount, nil
}

func (f *fakeMirror) IncrementUsage(ctx context.Context, date, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage[date] == nil {
		f.usage[date] = make(map[string]int64)
	}
	f.usage[date][accountID]++
	return f.usage[date][accountID], nil
}

func (f *fakeMirror) UsageByDate(ctx context.Context, date string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.usage[date]))
	for id, count := range f.usage[date] {
		out[id] = count
	}
	return out, nil
}

func (f *fakeMirror) ReplaceUsage(ctx context.Context, date string, counts map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	replaced := make(map[string]int64, len(counts))
	for id, count := range counts {
		replaced[id] = count
	}
	f.usage[date] = replaced
	return nil
}

// seedAvailable installs an account as available on every mirror surface.
func (f *fakeMirror) seedAvailable(accountID string, fields models.CookieFields) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID] = fields
	f.status[accountID] = &models.AccountStatus{IsAvailable: true}
}

// fakeCookieStore is an in-memory stand-in for the relational account store.
type fakeCookieStore struct {
	mu       sync.Mutex
	accounts map[string]*models.CookieAccount
	lastUsed map[string]time.Time
}

func newFakeCookieStore() *fakeCookieStore {
	return &fakeCookieStore{
		accounts: make(map[string]*models.CookieAccount),
		lastUsed: make(map[string]time.Time),
	}
}

func (f *fakeCookieStore) add(acct *models.CookieAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acct.AccountID] = acct
}

func (f *fakeCookieStore) get(accountID string) *models.CookieAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[accountID]
}

func (f *fakeCookieStore) GetByAccountID(ctx context.Context, accountID string) (*models.CookieAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *acct
	return &copied, nil
}

func (f *fakeCookieStore) GetAvailable(ctx context.Context) ([]*models.CookieAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	out := make([]*models.CookieAccount, 0)
	for _, acct := range f.accounts {
		if acct.Selectable(now) {
			copied := *acct
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeCookieStore) ListAll(ctx context.Context) ([]*models.CookieAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.CookieAccount, 0, len(f.accounts))
	for _, acct := range f.accounts {
		copied := *acct
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeCookieStore) BanTemporarily(ctx context.Context, accountID string, until time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return 0, nil
	}
	acct.IsAvailable = false
	acct.TempBanUntil = &until
	return 1, nil
}

func (f *fakeCookieStore) BanPermanently(ctx context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return 0, nil
	}
	acct.IsAvailable = false
	acct.IsPermanentlyBanned = true
	acct.TempBanUntil = nil
	return 1, nil
}

func (f *fakeCookieStore) Unban(ctx context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok || acct.IsPermanentlyBanned {
		return 0, nil
	}
	acct.IsAvailable = true
	acct.TempBanUntil = nil
	return 1, nil
}

func (f *fakeCookieStore) ForceUnban(ctx context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return 0, nil
	}
	acct.IsAvailable = true
	acct.IsPermanentlyBanned = false
	acct.TempBanUntil = nil
	return 1, nil
}

func (f *fakeCookieStore) SweepExpiredBans(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	ids := make([]string, 0)
	for id, acct := range f.accounts {
		if acct.IsPermanentlyBanned || acct.TempBanUntil == nil {
			continue
		}
		if !acct.TempBanUntil.After(now) {
			acct.IsAvailable = true
			acct.TempBanUntil = nil
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeCookieStore) UpdateLastUsed(ctx context.Context, accountID string, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUsed[accountID] = usedAt
	return nil
}

func (f *fakeCookieStore) CountByStatus(ctx context.Context) (*models.PoolStatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	counts := &models.PoolStatusCounts{Total: len(f.accounts)}
	for _, acct := range f.accounts {
		switch {
		case acct.IsPermanentlyBanned:
			counts.PermBanned++
		case acct.TempBanUntil != nil && acct.TempBanUntil.After(now):
			counts.TempBanned++
		case acct.Selectable(now):
			counts.Available++
		}
	}
	return counts, nil
}

// fakeUsageStore is an in-memory stand-in for the durable usage counters,
// keyed date string -> account ID.
type fakeUsageStore struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{counts: make(map[string]map[string]int64)}
}

func (f *fakeUsageStore) Increment(ctx context.Context, accountID string, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format(models.UsageDateFormat)
	if f.counts[key] == nil {
		f.counts[key] = make(map[string]int64)
	}
	f.counts[key][accountID]++
	return nil
}

func (f *fakeUsageStore) Set(ctx context.Context, accountID string, date time.Time, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format(models.UsageDateFormat)
	if f.counts[key] == nil {
		f.counts[key] = make(map[string]int64)
	}
	f.counts[key][accountID] = count
	return nil
}

func (f *fakeUsageStore) SetAll(ctx context.Context, date time.Time, counts map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format(models.UsageDateFormat)
	if f.counts[key] == nil {
		f.counts[key] = make(map[string]int64)
	}
	for accountID, count := range counts {
		f.counts[key][accountID] = count
	}
	return nil
}

func (f *fakeUsageStore) GetByDate(ctx context.Context, date time.Time) ([]*models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format(models.UsageDateFormat)
	out := make([]*models.UsageRecord, 0, len(f.counts[key]))
	for id, count := range f.counts[key] {
		out = append(out, &models.UsageRecord{AccountID: id, UsageDate: date, UsageCount: count})
	}
	return out, nil
}

func (f *fakeUsageStore) Query(ctx context.Context, filter models.UsageFilter) ([]*models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.UsageRecord, 0)
	for key, byAccount := range f.counts {
		date, _ := time.Parse(models.UsageDateFormat, key)
		for id, count := range byAccount {
			if filter.AccountID != "" && filter.AccountID != id {
				continue
			}
			out = append(out, &models.UsageRecord{AccountID: id, UsageDate: date, UsageCount: count})
		}
	}
	return out, nil
}

func (f *fakeUsageStore) count(date string, accountID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[date][accountID]
}

// noopTracker satisfies the selector's recorder without side effects.
type noopTracker struct{}

func (noopTracker) RecordUse(ctx context.Context, accountID string) {}

// recordingTracker captures which accounts were selected, in order.
type recordingTracker struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTracker) RecordUse(ctx context.Context, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, accountID)
}

// recordingEvictor captures selector evictions.
type recordingEvictor struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingEvictor) Evict(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, accountID)
}

func (r *recordingEvictor) evicted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func testAccount(accountID string) *models.CookieAccount {
	return &models.CookieAccount{
		AccountID:   accountID,
		Fields:      models.CookieFields{"BDUSS": "token-" + accountID},
		IsAvailable: true,
	}
}
