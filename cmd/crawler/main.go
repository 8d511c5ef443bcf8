package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hqzhang/indexhunter/internal/background"
	"github.com/hqzhang/indexhunter/internal/baidu"
	"github.com/hqzhang/indexhunter/internal/cache"
	"github.com/hqzhang/indexhunter/internal/config"
	"github.com/hqzhang/indexhunter/internal/crawler"
	"github.com/hqzhang/indexhunter/internal/database"
	"github.com/hqzhang/indexhunter/internal/export"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/hqzhang/indexhunter/internal/pool"
	"github.com/hqzhang/indexhunter/internal/repositories"
	"github.com/hqzhang/indexhunter/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var (
		keywordsFlag = flag.String("keywords", "", "comma-separated keywords to crawl")
		areasFlag    = flag.String("areas", "0", "comma-separated area codes (0 = nationwide)")
		startFlag    = flag.String("start-date", "", "range start, YYYY-MM-DD (default: Jan 1 of this year)")
		endFlag      = flag.String("end-date", "", "range end, YYYY-MM-DD (default: today)")
		csvFlag      = flag.String("csv", "", "write results to this CSV file")
		xlsxFlag     = flag.String("xlsx", "", "write results to this Excel file")
		importFlag   = flag.String("import-cookies", "", "import accounts from file (account_id<TAB>cookie string per line) and exit")
		statusFlag   = flag.Bool("status", false, "print pool status and exit")
		driftFlag    = flag.Bool("check-drift", false, "compare store and cache mirror, repair orphans, and exit")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := migrations.Up(ctx, db.Pool); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize cache mirror
	mirror, err := cache.NewMirror(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer mirror.Close()

	// Initialize repositories
	cookieRepo := repositories.NewCookieRepository(db)
	usageRepo := repositories.NewUsageRepository(db)
	resultRepo := repositories.NewResultRepository(db)

	reconciler := pool.NewReconciler(cookieRepo, mirror, logger)

	if *importFlag != "" {
		if err := importCookies(ctx, *importFlag, cookieRepo, reconciler, logger); err != nil {
			logger.Error("cookie import failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if *statusFlag {
		if err := reportStatus(ctx, cookieRepo, mirror, db, logger); err != nil {
			logger.Error("status report failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if *driftFlag {
		report, err := reconciler.DetectDrift(ctx)
		if err != nil {
			logger.Error("drift check failed", slog.Any("error", err))
			os.Exit(1)
		}
		if report.Empty() {
			logger.Info("store and cache mirror agree")
			return
		}
		logger.Warn("drift found; run a full resync to repair store-only and mismatched entries",
			slog.Any("cache_only", report.CacheOnly),
			slog.Any("store_only", report.StoreOnly),
			slog.Any("mismatched", report.Mismatched))
		return
	}

	if *keywordsFlag == "" {
		fmt.Fprintln(os.Stderr, "no keywords given; use -keywords or -import-cookies")
		flag.Usage()
		os.Exit(2)
	}

	tasks, err := buildTasks(*keywordsFlag, *areasFlag, *startFlag, *endFlag)
	if err != nil {
		logger.Error("invalid crawl parameters", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize pool components
	tracker := pool.NewUsageTracker(mirror, usageRepo, cookieRepo, logger)
	selector := pool.NewSelector(mirror, cookieRepo, tracker, pool.SelectorConfig{
		Strategy:         cfg.Pool.Strategy,
		RefreshInterval:  cfg.Pool.RefreshInterval,
		WaitPollInterval: cfg.Pool.WaitPollInterval,
	}, logger)
	banManager := pool.NewBanManager(cookieRepo, mirror, selector, pool.BanManagerConfig{
		BlockCooldown: cfg.Pool.BlockCooldown,
	}, logger)

	// The store is authoritative; rewrite the mirror from it before
	// selecting anything.
	if err := reconciler.FullResync(ctx); err != nil {
		logger.Error("failed to resync cache mirror", slog.Any("error", err))
		os.Exit(1)
	}

	// Start background sweeper
	sweeper := background.NewSweeper(banManager, tracker, cookieRepo, selector, logger, cfg.Pool.SweepInterval)
	go sweeper.Start(ctx)

	// Initialize upstream client and crawl runner. Cipher-Text generation
	// runs an obfuscated upstream script outside this binary; without a
	// generator the header is omitted, which the upstream tolerates today.
	logger.Warn("no cipher-text generator configured, Cipher-Text header will be omitted")
	client := baidu.NewClient(cfg.Upstream, nil, logger)

	collector := &collectSink{}
	sink := multiSink{export.NewSQLSink(resultRepo, logger), collector}

	runner := crawler.NewRunner(selector, client, banManager, sink, crawler.RunnerConfig{
		Workers:           cfg.Crawler.Workers,
		CookieWaitTimeout: cfg.Pool.WaitTimeout,
	}, logger)

	// First signal drains in-flight tasks, second aborts outright.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, draining in-flight tasks")
		runner.Stop()
		<-sigCh
		logger.Info("second signal received, aborting")
		cancel()
	}()

	stats, err := runner.Run(ctx, tasks)
	if err != nil {
		logger.Error("crawl run aborted", slog.Any("error", err))
	}

	sweeper.Stop()
	tracker.Close()

	rows := collector.Rows()
	if err := writeOutputs(rows, *csvFlag, *xlsxFlag, cfg.Export.OutputDir, stats.RunID, logger); err != nil {
		logger.Error("failed to write outputs", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("crawl summary",
		slog.String("run_id", stats.RunID),
		slog.Int("total", stats.Total),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", stats.Finished.Sub(stats.Started)))
}

// buildTasks expands the keyword and area lists into their cross product.
func buildTasks(keywords, areas, start, end string) ([]models.CrawlTask, error) {
	now := time.Now()

	startDate := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	if start != "" {
		parsed, err := time.Parse(models.UsageDateFormat, start)
		if err != nil {
			return nil, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		startDate = parsed
	}

	endDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if end != "" {
		parsed, err := time.Parse(models.UsageDateFormat, end)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		endDate = parsed
	}
	if endDate.Before(startDate) {
		return nil, fmt.Errorf("end date %s is before start date %s", endDate.Format(models.UsageDateFormat), startDate.Format(models.UsageDateFormat))
	}

	var areaCodes []int
	for _, field := range strings.Split(areas, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		code, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid area code %q: %w", field, err)
		}
		areaCodes = append(areaCodes, code)
	}
	if len(areaCodes) == 0 {
		areaCodes = []int{0}
	}

	var tasks []models.CrawlTask
	for _, keyword := range strings.Split(keywords, ",") {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		for _, area := range areaCodes {
			tasks = append(tasks, models.CrawlTask{
				Keyword:   keyword,
				Area:      area,
				StartDate: startDate,
				EndDate:   endDate,
			})
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no keywords to crawl")
	}
	return tasks, nil
}

// reportStatus logs a point-in-time pool status and connection pool stats.
func reportStatus(ctx context.Context, cookieRepo *repositories.CookieRepository, mirror *cache.Mirror, db *database.DB, logger *slog.Logger) error {
	reporter := pool.NewStatusReporter(cookieRepo, mirror, db, logger)
	status, err := reporter.Report(ctx)
	if err != nil {
		return err
	}

	stat := db.Stats()
	logger.Info("pool status",
		slog.Int("total", status.Counts.Total),
		slog.Int("available", status.Counts.Available),
		slog.Int("temp_banned", status.Counts.TempBanned),
		slog.Int("perm_banned", status.Counts.PermBanned),
		slog.Int64("cached_available", status.CachedAvailable),
		slog.Bool("cache_in_sync", status.CacheInSync),
		slog.Bool("database_healthy", status.DatabaseHealthy),
		slog.Int("db_total_conns", int(stat.TotalConns())),
		slog.Int("db_idle_conns", int(stat.IdleConns())))
	return nil
}

// importCookies upserts accounts from a tab-separated file and mirrors them.
func importCookies(ctx context.Context, path string, repo *repositories.CookieRepository, reconciler *pool.Reconciler, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()

	var imported int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		accountID, cookieStr, found := strings.Cut(line, "\t")
		if !found {
			return fmt.Errorf("malformed line %q: want account_id<TAB>cookie string", line)
		}

		fields, err := models.ParseCookieString(cookieStr)
		if err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}

		acct := &models.CookieAccount{
			AccountID:   strings.TrimSpace(accountID),
			Fields:      fields,
			IsAvailable: true,
		}
		if err := repo.Upsert(ctx, acct); err != nil {
			return fmt.Errorf("upsert account %s: %w", acct.AccountID, err)
		}
		if err := reconciler.ResyncAccount(ctx, acct.AccountID); err != nil {
			return fmt.Errorf("mirror account %s: %w", acct.AccountID, err)
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read cookie file: %w", err)
	}

	logger.Info("cookie import finished", slog.Int("accounts", imported))
	return nil
}

func writeOutputs(rows []models.IndexRow, csvPath, xlsxPath, outputDir, runID string, logger *slog.Logger) error {
	if len(rows) == 0 {
		logger.Info("no rows to export")
		return nil
	}

	if csvPath == "" && xlsxPath == "" && outputDir != "" {
		csvPath = filepath.Join(outputDir, runID+".csv")
	}

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("create csv file: %w", err)
		}
		if err := export.WriteCSV(f, rows); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Info("csv written", slog.String("path", csvPath), slog.Int("rows", len(rows)))
	}

	if xlsxPath != "" {
		if err := export.WriteExcel(xlsxPath, rows); err != nil {
			return err
		}
		logger.Info("excel written", slog.String("path", xlsxPath), slog.Int("rows", len(rows)))
	}
	return nil
}

// collectSink buffers rows in memory for file export after the run.
type collectSink struct {
	mu   sync.Mutex
	rows []models.IndexRow
}

func (c *collectSink) WriteRows(ctx context.Context, rows []models.IndexRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *collectSink) Rows() []models.IndexRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.IndexRow(nil), c.rows...)
}

// multiSink fans rows out to every sink.
type multiSink []crawler.RowSink

func (m multiSink) WriteRows(ctx context.Context, rows []models.IndexRow) error {
	for _, sink := range m {
		if err := sink.WriteRows(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}
