// Package scheduler owns the scraping cycle: it iterates the enabled
// sources strictly sequentially, isolates per-source failures, pushes
// new records through the persistence gateway and the notifier, and
// aggregates run statistics.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"tenderwatch/internal/notify"
	"tenderwatch/internal/scraper"
	"tenderwatch/internal/storage"
	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

type Config struct {
	IntervalMinutes int
	EnabledSources  map[tender.Source]bool
}

// SourceStats is the cumulative per-source counter block.
type SourceStats struct {
	Runs       int    `json:"runs"`
	NewTenders int    `json:"newTenders"`
	LastStatus string `json:"lastStatus"` // "", "ok" or "error"
}

// Snapshot is a point-in-time copy of the scheduler state, safe to
// hand to reporting code.
type Snapshot struct {
	IsRunning       bool                         `json:"isRunning"`
	LastRun         time.Time                    `json:"lastRun"`
	IntervalMinutes int                          `json:"intervalMinutes"`
	EnabledSources  map[tender.Source]bool       `json:"enabledSources"`
	TotalRuns       int                          `json:"totalRuns"`
	SuccessfulRuns  int                          `json:"successfulRuns"`
	FailedRuns      int                          `json:"failedRuns"`
	TotalNewTenders int                          `json:"totalNewTenders"`
	BySource        map[tender.Source]SourceStats `json:"bySource"`
}

type Service struct {
	mu       sync.Mutex
	cfg      Config
	enabled  map[tender.Source]bool
	running  bool
	lastRun  time.Time
	total    int
	success  int
	failed   int
	newTotal int
	bySource map[tender.Source]*SourceStats

	scrapers []scraper.Scraper
	store    storage.Store
	notifier notify.Notifier
	log      logx.Logger

	c  *cron.Cron
	wg sync.WaitGroup
}

func New(cfg Config, scrapers []scraper.Scraper, store storage.Store, notifier notify.Notifier, log logx.Logger) *Service {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 30
	}
	enabled := map[tender.Source]bool{}
	for _, sc := range scrapers {
		enabled[sc.Source()] = cfg.EnabledSources[sc.Source()]
	}
	s := &Service{
		cfg:      cfg,
		enabled:  enabled,
		bySource: map[tender.Source]*SourceStats{},
		scrapers: scrapers,
		store:    store,
		notifier: notifier,
		log:      log.With(logx.String("component", "scheduler")),
	}
	for _, sc := range scrapers {
		s.bySource[sc.Source()] = &SourceStats{}
	}
	return s
}

// Trigger runs one scraping cycle. An empty filter means "all enabled
// sources"; a non-empty filter restricts the cycle to exactly that
// source regardless of the enabled set. While a cycle is in flight
// further triggers are dropped, not queued.
func (s *Service) Trigger(ctx context.Context, filter tender.Source) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Info("run already in flight, trigger dropped")
		return
	}
	s.running = true
	enabled := make(map[tender.Source]bool, len(s.enabled))
	for k, v := range s.enabled {
		enabled[k] = v
	}
	s.mu.Unlock()

	runID := uuid.NewString()
	log := s.log.With(logx.String("run_id", runID))
	log.Info("run started", logx.String("filter", string(filter)))

	var results []tender.RunResult
	// Sources run sequentially: browser-session style adapters hold an
	// exclusive upstream session, and serial fetches bound the number
	// of outbound connections.
	for _, sc := range s.scrapers {
		if !shouldRun(sc.Source(), filter, enabled) {
			continue
		}
		res := s.runSource(ctx, sc, log)
		results = append(results, res)

		s.mu.Lock()
		st := s.bySource[res.Source]
		st.Runs++
		if res.Success {
			st.LastStatus = "ok"
			st.NewTenders += res.NewCount
		} else {
			st.LastStatus = "error"
		}
		s.mu.Unlock()
	}

	totalNew := 0
	anySuccess := false
	for _, r := range results {
		totalNew += r.NewCount
		anySuccess = anySuccess || r.Success
	}

	s.mu.Lock()
	s.total++
	s.lastRun = time.Now()
	if anySuccess {
		s.success++
	} else {
		s.failed++
	}
	s.newTotal += totalNew
	s.running = false
	s.mu.Unlock()

	log.Info("run finished", logx.Int("sources", len(results)), logx.Int("new", totalNew), logx.Bool("any_success", anySuccess))
}

// runSource wraps one adapter invocation. Errors and panics become a
// failed RunResult so the remaining sources still execute.
func (s *Service) runSource(ctx context.Context, sc scraper.Scraper, log logx.Logger) (res tender.RunResult) {
	src := sc.Source()
	log = log.With(logx.String("source", string(src)))
	res = tender.RunResult{Source: src}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in adapter", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = tender.RunResult{Source: src, Err: fmt.Errorf("panic: %v", r)}
			s.notifier.NotifyError(ctx, src, res.Err.Error())
		}
	}()

	records, err := sc.Fetch(ctx)
	if err != nil {
		log.Warn("fetch failed", logx.Err(err))
		res.Err = err
		s.notifier.NotifyError(ctx, src, err.Error())
		return res
	}
	res.TotalCount = len(records)

	fresh, err := s.store.UpsertTenders(ctx, records)
	if err != nil {
		log.Error("persist failed", logx.Err(err))
		res.Err = err
		s.notifier.NotifyError(ctx, src, err.Error())
		return res
	}

	res.Success = true
	res.NewCount = len(fresh)
	log.Info("source done", logx.Int("total", res.TotalCount), logx.Int("new", res.NewCount))

	if len(fresh) > 0 {
		s.notifier.NotifyNew(ctx, src, fresh)
	}
	return res
}

func shouldRun(src, filter tender.Source, enabled map[tender.Source]bool) bool {
	if filter != "" {
		return src == filter
	}
	return enabled[src]
}

// SetEnabledSources merges the given toggles into the enabled set and
// persists them so they survive a restart.
func (s *Service) SetEnabledSources(ctx context.Context, sources map[tender.Source]bool) {
	s.mu.Lock()
	for src, on := range sources {
		if _, known := s.enabled[src]; known {
			s.enabled[src] = on
		}
	}
	snapshot := make(map[tender.Source]bool, len(s.enabled))
	for k, v := range s.enabled {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if err := s.store.WriteEnabledSources(ctx, snapshot); err != nil {
		s.log.Error("persist enabled sources failed", logx.Err(err))
	}
}

// Stats returns a deep copy of the current counters.
func (s *Service) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		IsRunning:       s.running,
		LastRun:         s.lastRun,
		IntervalMinutes: s.cfg.IntervalMinutes,
		EnabledSources:  make(map[tender.Source]bool, len(s.enabled)),
		TotalRuns:       s.total,
		SuccessfulRuns:  s.success,
		FailedRuns:      s.failed,
		TotalNewTenders: s.newTotal,
		BySource:        make(map[tender.Source]SourceStats, len(s.bySource)),
	}
	for k, v := range s.enabled {
		snap.EnabledSources[k] = v
	}
	for k, v := range s.bySource {
		snap.BySource[k] = *v
	}
	return snap
}

// Start restores persisted source toggles, fires an immediate run and
// registers the recurring interval trigger.
func (s *Service) Start(ctx context.Context) error {
	if persisted, err := s.store.ReadEnabledSources(ctx); err != nil {
		s.log.Warn("read enabled sources failed, using config", logx.Err(err))
	} else if len(persisted) > 0 {
		s.mu.Lock()
		for src, on := range persisted {
			if _, known := s.enabled[src]; known {
				s.enabled[src] = on
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	interval := s.cfg.IntervalMinutes
	s.mu.Unlock()

	s.c = cron.New()
	// "@every" keeps a true fixed period for any interval; a "*/N"
	// minute field only does that when N divides 60.
	spec := fmt.Sprintf("@every %dm", interval)
	if _, err := s.c.AddFunc(spec, func() { s.Trigger(ctx, "") }); err != nil {
		return fmt.Errorf("register interval trigger: %w", err)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("interval_minutes", interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Trigger(ctx, "")
	}()
	return nil
}

// Stop halts the interval trigger and waits for in-flight runs,
// including the immediate startup run, so callers can safely tear down
// the store afterwards.
func (s *Service) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}
