package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hqzhang/indexhunter/internal/baidu"
	"github.com/hqzhang/indexhunter/internal/models"
)

// Account swaps allowed per task before giving up on it.
const maxAccountSwaps = 3

// CookieSource hands out account credentials, waiting for one to free up.
type CookieSource interface {
	AwaitNext(ctx context.Context, timeout time.Duration) (string, models.CookieFields, error)
}

// IndexFetcher is the upstream surface a crawl worker needs.
type IndexFetcher interface {
	SearchIndex(ctx context.Context, creds models.CookieFields, keyword string, area int, startDate, endDate string) (*baidu.SearchIndexResult, baidu.Outcome, error)
	FetchKey(ctx context.Context, creds models.CookieFields, uniqid string) (string, error)
}

// BanReporter receives the verdicts crawl workers get on borrowed accounts.
type BanReporter interface {
	BanTemporarily(ctx context.Context, accountID string, d time.Duration) error
	BanPermanently(ctx context.Context, accountID string) error
}

// RowSink receives decoded rows as tasks complete.
type RowSink interface {
	WriteRows(ctx context.Context, rows []models.IndexRow) error
}

// RunnerConfig holds configuration for crawl runs
type RunnerConfig struct {
	Workers           int
	CookieWaitTimeout time.Duration
}

// Runner drives a crawl: a pool of workers pulls tasks, borrows an account
// per request, reports upstream verdicts to the ban manager, decrypts the
// series and hands rows to the sink.
type Runner struct {
	cookies CookieSource
	fetcher IndexFetcher
	bans    BanReporter
	sink    RowSink
	cfg     RunnerConfig
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRunner creates a new Runner
func NewRunner(cookies CookieSource, fetcher IndexFetcher, bans BanReporter, sink RowSink, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CookieWaitTimeout <= 0 {
		cfg.CookieWaitTimeout = 1800 * time.Second
	}
	return &Runner{
		cookies: cookies,
		fetcher: fetcher,
		bans:    bans,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Stop halts admission of new tasks. Tasks already picked up run to
// completion; Run returns once in-flight work drains.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run executes the task list and returns per-run statistics. Workers share
// the upstream client's rate limiter, so adding workers raises concurrency
// on waits, not the request rate.
func (r *Runner) Run(ctx context.Context, tasks []models.CrawlTask) (*models.CrawlStats, error) {
	stats := &models.CrawlStats{
		RunID:   uuid.New().String(),
		Total:   len(tasks),
		Started: time.Now(),
	}

	r.logger.Info("crawl run started",
		slog.String("run_id", stats.RunID),
		slog.Int("tasks", len(tasks)),
		slog.Int("workers", r.cfg.Workers))

	taskCh := make(chan models.CrawlTask)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				err := r.process(ctx, stats.RunID, task)
				mu.Lock()
				switch {
				case err == nil:
					stats.Succeeded++
				case errors.Is(err, models.ErrNoCookieAvailable):
					stats.Skipped++
				default:
					stats.Failed++
				}
				mu.Unlock()
				if err != nil {
					r.logger.Warn("crawl task not completed",
						slog.String("run_id", stats.RunID),
						slog.String("keyword", task.Keyword),
						slog.Int("area", task.Area),
						slog.Any("error", err))
				}
			}
		}()
	}

admission:
	for _, task := range tasks {
		select {
		case taskCh <- task:
		case <-r.stopCh:
			r.logger.Info("crawl admission stopped", slog.String("run_id", stats.RunID))
			break admission
		case <-ctx.Done():
			close(taskCh)
			wg.Wait()
			stats.Finished = time.Now()
			return stats, ctx.Err()
		}
	}
	close(taskCh)
	wg.Wait()

	stats.Finished = time.Now()
	mu.Lock()
	stats.Skipped = stats.Total - stats.Succeeded - stats.Failed
	mu.Unlock()

	r.logger.Info("crawl run finished",
		slog.String("run_id", stats.RunID),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped))
	return stats, nil
}

// process crawls one task, swapping accounts on credential verdicts up to
// maxAccountSwaps times before giving up.
func (r *Runner) process(ctx context.Context, runID string, task models.CrawlTask) error {
	start := task.StartDate.Format(models.UsageDateFormat)
	end := task.EndDate.Format(models.UsageDateFormat)

	var result *baidu.SearchIndexResult
	var creds models.CookieFields
	var lastErr error

	for attempt := 0; attempt < maxAccountSwaps; attempt++ {
		accountID, fields, err := r.cookies.AwaitNext(ctx, r.cfg.CookieWaitTimeout)
		if err != nil {
			return err
		}

		res, outcome, err := r.fetcher.SearchIndex(ctx, fields, task.Keyword, task.Area, start, end)
		switch outcome {
		case baidu.OutcomeOK:
			result = res
			creds = fields
		case baidu.OutcomeCredentialInvalid:
			if banErr := r.bans.BanPermanently(ctx, accountID); banErr != nil {
				r.logger.Warn("failed to ban account", slog.String("account_id", accountID), slog.Any("error", banErr))
			}
			lastErr = err
			continue
		case baidu.OutcomeCredentialBlocked:
			if banErr := r.bans.BanTemporarily(ctx, accountID, 0); banErr != nil {
				r.logger.Warn("failed to ban account", slog.String("account_id", accountID), slog.Any("error", banErr))
			}
			lastErr = err
			continue
		default:
			// Bad request or transport failure: no verdict on the account.
			return err
		}
		break
	}
	if result == nil {
		return lastErr
	}

	key, err := r.fetcher.FetchKey(ctx, creds, result.UniqID)
	if err != nil {
		// A missing key means unreadable series, not a dead task; the rows
		// come out zeroed.
		r.logger.Warn("decryption key unavailable, series decodes as zero",
			slog.String("run_id", runID),
			slog.String("keyword", task.Keyword),
			slog.Any("error", err))
		key = ""
	}

	rows := buildRows(runID, task, key, result)
	if len(rows) == 0 {
		return nil
	}
	return r.sink.WriteRows(ctx, rows)
}

// buildRows decrypts the three series and lays them onto the task's date
// axis.
func buildRows(runID string, task models.CrawlTask, key string, result *baidu.SearchIndexResult) []models.IndexRow {
	all := baidu.ParseSeries(baidu.Decrypt(key, result.All))
	wise := baidu.ParseSeries(baidu.Decrypt(key, result.Wise))
	pc := baidu.ParseSeries(baidu.Decrypt(key, result.PC))

	n := len(all)
	if len(wise) > n {
		n = len(wise)
	}
	if len(pc) > n {
		n = len(pc)
	}
	if n == 0 {
		return nil
	}

	interval := intervalDays(task.StartDate, task.EndDate, n)

	rows := make([]models.IndexRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, models.IndexRow{
			RunID:        runID,
			Keyword:      task.Keyword,
			Area:         task.Area,
			Date:         task.StartDate.AddDate(0, 0, i*interval),
			IntervalDays: interval,
			OverallIndex: pointAt(all, i),
			WiseIndex:    pointAt(wise, i),
			PCIndex:      pointAt(pc, i),
		})
	}
	return rows
}

// intervalDays derives the series resolution from the date span: daily for
// short ranges, weekly when the upstream collapses a long range to one point
// per week.
func intervalDays(start, end time.Time, points int) int {
	totalDays := int(end.Sub(start).Hours()/24) + 1
	if totalDays < 1 || points < 1 {
		return 1
	}
	interval := totalDays / points
	if interval < 1 {
		interval = 1
	}
	return interval
}

func pointAt(series []int64, i int) int64 {
	if i < len(series) {
		return series[i]
	}
	return 0
}
