package models

import "time"

// CrawlTask is one keyword/area/date-range unit of work for a crawl run.
type CrawlTask struct {
	Keyword   string
	Area      int
	StartDate time.Time
	EndDate   time.Time
}

// IndexRow is one decoded data point of a search-index time series.
type IndexRow struct {
	RunID        string
	Keyword      string
	Area         int
	Date         time.Time
	IntervalDays int
	OverallIndex int64
	WiseIndex    int64
	PCIndex      int64
}

// CrawlStats summarizes the outcome of a crawl run.
type CrawlStats struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Started   time.Time
	Finished  time.Time
}
