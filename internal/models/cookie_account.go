package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CookieFields is one account's credential set: the cookie name/value pairs
// sent with every upstream request.
type CookieFields map[string]string

// NewCookieFields validates a raw credential map. Empty names or values mean
// the credential set was scraped or pasted incorrectly, so they are rejected
// at construction time instead of surfacing as upstream auth failures later.
func NewCookieFields(raw map[string]string) (CookieFields, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty credential set", ErrInvalidCookie)
	}

	fields := make(CookieFields, len(raw))
	for name, value := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty cookie name", ErrInvalidCookie)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: empty value for cookie %q", ErrInvalidCookie, name)
		}
		fields[name] = value
	}

	return fields, nil
}

// ParseCookieString parses a raw "name=value; name2=value2" cookie header
// string into a validated CookieFields map. Segments without '=' are skipped.
func ParseCookieString(s string) (CookieFields, error) {
	raw := make(map[string]string)
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" || !strings.Contains(item, "=") {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		raw[strings.TrimSpace(parts[0])] = parts[1]
	}
	return NewCookieFields(raw)
}

// Get returns the value for a cookie name, or "" if absent.
func (f CookieFields) Get(name string) string {
	return f[name]
}

// Header assembles the fields into a Cookie header value with deterministic
// ordering.
func (f CookieFields) Header() string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+f[name])
	}
	return strings.Join(pairs, "; ")
}

// MarshalJSON keeps the wire format a plain object so the cache mirror and the
// JSONB column share one representation.
func (f CookieFields) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string(f))
}

// CookieAccount is one scraped credential set usable for one logical identity
// against the upstream service.
type CookieAccount struct {
	AccountID           string
	Fields              CookieFields
	IsAvailable         bool
	IsPermanentlyBanned bool
	TempBanUntil        *time.Time
	ExpireTime          *time.Time
	LastUsedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Banned reports whether the account is in a banned state at the given
// instant: permanently banned, or temporarily banned with the ban still in
// the future.
func (a *CookieAccount) Banned(now time.Time) bool {
	if a.IsPermanentlyBanned {
		return true
	}
	return a.TempBanUntil != nil && a.TempBanUntil.After(now)
}

// Expired reports whether the credentials are past their expire_time.
func (a *CookieAccount) Expired(now time.Time) bool {
	return a.ExpireTime != nil && a.ExpireTime.Before(now)
}

// Selectable reports whether the selector may hand this account out.
func (a *CookieAccount) Selectable(now time.Time) bool {
	return a.IsAvailable && !a.Banned(now) && !a.Expired(now)
}

// AccountStatus is the availability view of an account held in the cache
// mirror's status namespace.
type AccountStatus struct {
	IsAvailable         bool `json:"is_available"`
	IsPermanentlyBanned bool `json:"is_permanently_banned"`
}

// BanInfo is the temporary-ban view held in the cache mirror's ban namespace.
type BanInfo struct {
	TempBanUntil time.Time `json:"temp_ban_until"`
}

// PoolStatusCounts summarizes account states for reporting.
type PoolStatusCounts struct {
	Total      int
	Available  int
	TempBanned int
	PermBanned int
}
