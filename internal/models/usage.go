package models

import "time"

// UsageRecord counts one account's selections on one calendar date.
type UsageRecord struct {
	AccountID  string
	UsageDate  time.Time
	UsageCount int64
	UpdateTime time.Time
}

// UsageFilter narrows usage queries. Zero values mean "no constraint".
type UsageFilter struct {
	AccountID string
	StartDate time.Time
	EndDate   time.Time
}

// UsageDateFormat is the calendar-date key shared by the cache mirror's usage
// namespace and the store's usage_date column.
const UsageDateFormat = "2006-01-02"
