// Package aggregator owns the merged dashboard view-model: it fans out to the
// upstream services, joins the settled results, deduplicates alerts, writes
// through the snapshot cache and drives the background refresh cycle.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/defi-guard/dashboard-aggregator/internal/cache"
	"github.com/defi-guard/dashboard-aggregator/internal/dedup"
	"github.com/defi-guard/dashboard-aggregator/internal/metrics"
	"github.com/defi-guard/dashboard-aggregator/internal/model"
	"github.com/defi-guard/dashboard-aggregator/internal/scheduler"
)

// ErrAllSourcesDown is surfaced when every upstream failed and no prior data
// exists to keep showing.
var ErrAllSourcesDown = errors.New("unable to reach backend services")

// ErrFreshScrapeThrottled rejects a forced threat-intel re-scrape that arrives
// before the minimum interval has elapsed.
var ErrFreshScrapeThrottled = errors.New("fresh scrape requested too soon, serving cached data")

// Source name labels used in SourceErrors and metrics.
const (
	SourceThreatIntel      = "threat_intel"
	SourceStablecoins      = "stablecoins"
	SourceStablecoinAlerts = "stablecoin_alerts"
	SourceThreatHealth     = "threat_intel_health"
	SourceStablecoinHealth = "stablecoin_health"
)

// ThreatIntelSource is the slice of the threat-intel client the controller
// needs.
type ThreatIntelSource interface {
	ListNews(ctx context.Context, limit int, freshScrape bool) ([]model.ThreatIntelItem, error)
	Health(ctx context.Context) (model.ServiceHealth, error)
}

// StablecoinSource is the slice of the stablecoin client the controller needs.
type StablecoinSource interface {
	CurrentMetrics(ctx context.Context) ([]model.StablecoinSnapshot, error)
	ActiveAlerts(ctx context.Context) ([]model.StablecoinAlert, error)
	Health(ctx context.Context) (model.ServiceHealth, error)
}

// AssessmentSource is the slice of the risk-assessment client the poller needs.
type AssessmentSource interface {
	GetAssessment(ctx context.Context, id string) (model.Assessment, error)
	GetAssessmentProgress(ctx context.Context, id string) (model.AssessmentProgress, error)
	ListAssessments(ctx context.Context) ([]model.Assessment, error)
}

// AlertPublisher receives newly observed deduplicated alerts. Publish failures
// never fail a refresh cycle.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert model.StablecoinAlert) error
}

// ViewModel is the merged dashboard state served over REST and pushed over
// the websocket hub.
type ViewModel struct {
	ThreatIntel      []model.ThreatIntelItem    `json:"threat_intel"`
	Stablecoins      []model.StablecoinSnapshot `json:"stablecoins"`
	StablecoinAlerts []model.StablecoinAlert    `json:"stablecoin_alerts"`
	TopAlerts        []model.StablecoinAlert    `json:"top_alerts"`

	ThreatIntelHealth model.ServiceHealth `json:"threat_intel_health"`
	StablecoinHealth  model.ServiceHealth `json:"stablecoin_health"`

	SourceErrors map[string]string `json:"source_errors,omitempty"`
	Error        string            `json:"error,omitempty"`

	Loading              bool   `json:"loading"`
	BackgroundRefreshing bool   `json:"background_refreshing"`
	ThreatIntelLoading   bool   `json:"threat_intel_loading"`
	LastUpdated          string `json:"last_updated,omitempty"`
}

// Options tune the controller's refresh behavior. Zero values fall back to
// the canonical defaults.
type Options struct {
	RefreshInterval        time.Duration
	ThreatIntelLimit       int
	AlertDisplayLimit      int
	PollInterval           time.Duration
	PollMaxAttempts        int
	FreshScrapeMinInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 60 * time.Second
	}
	if o.ThreatIntelLimit <= 0 {
		o.ThreatIntelLimit = 50
	}
	if o.AlertDisplayLimit <= 0 {
		o.AlertDisplayLimit = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.PollMaxAttempts <= 0 {
		o.PollMaxAttempts = 100
	}
	if o.FreshScrapeMinInterval <= 0 {
		o.FreshScrapeMinInterval = 5 * time.Minute
	}
}

// Controller coordinates refresh cycles and guards the view-model.
type Controller struct {
	threat      ThreatIntelSource
	stablecoins StablecoinSource
	assessments AssessmentSource
	publisher   AlertPublisher
	cache       *cache.Cache
	collector   *metrics.Collector
	logger      *slog.Logger
	opts        Options

	mu sync.RWMutex
	vm ViewModel

	// seen tracks alert fingerprints already surfaced, so only genuinely
	// new alerts reach the publisher and the websocket alert channel.
	seen map[string]struct{}

	flight       singleflight.Group
	freshLimiter *rate.Limiter

	onUpdate func(ViewModel)
	onAlert  func([]model.StablecoinAlert)

	taskMu  sync.Mutex
	refresh *scheduler.Task
	pollers []*scheduler.Task
	stopped bool
}

// New builds a Controller and seeds its view-model from the snapshot cache.
// Cold start shows loading only when nothing cached is available.
func New(threat ThreatIntelSource, stablecoins StablecoinSource, assessments AssessmentSource, publisher AlertPublisher, snapshots *cache.Cache, collector *metrics.Collector, logger *slog.Logger, opts Options) *Controller {
	opts.applyDefaults()

	c := &Controller{
		threat:       threat,
		stablecoins:  stablecoins,
		assessments:  assessments,
		publisher:    publisher,
		cache:        snapshots,
		collector:    collector,
		logger:       logger,
		opts:         opts,
		seen:         make(map[string]struct{}),
		freshLimiter: rate.NewLimiter(rate.Every(opts.FreshScrapeMinInterval), 1),
		vm: ViewModel{
			ThreatIntel:      []model.ThreatIntelItem{},
			Stablecoins:      []model.StablecoinSnapshot{},
			StablecoinAlerts: []model.StablecoinAlert{},
			TopAlerts:        []model.StablecoinAlert{},
			SourceErrors:     map[string]string{},
			Loading:          true,
		},
	}
	c.seedFromCache(context.Background())
	return c
}

// SetOnUpdate registers a hook invoked with a view-model copy after every
// completed merge.
func (c *Controller) SetOnUpdate(fn func(ViewModel)) { c.onUpdate = fn }

// SetOnAlert registers a hook invoked with newly surfaced deduped alerts.
func (c *Controller) SetOnAlert(fn func([]model.StablecoinAlert)) { c.onAlert = fn }

func (c *Controller) seedFromCache(ctx context.Context) {
	var (
		threatIntel []model.ThreatIntelItem
		coins       []model.StablecoinSnapshot
		alerts      []model.StablecoinAlert
		lastUpdated string
	)
	hits := 0
	if c.readCached(ctx, cache.KeyThreatIntel, &threatIntel) && len(threatIntel) > 0 {
		c.vm.ThreatIntel = threatIntel
		hits++
	}
	if c.readCached(ctx, cache.KeyStablecoins, &coins) && len(coins) > 0 {
		c.vm.Stablecoins = coins
		hits++
	}
	if c.readCached(ctx, cache.KeyStablecoinAlerts, &alerts) && len(alerts) > 0 {
		collapsed := dedup.Collapse(alerts)
		c.vm.StablecoinAlerts = collapsed
		c.vm.TopAlerts = dedup.Top(collapsed, c.opts.AlertDisplayLimit)
		for _, a := range collapsed {
			c.seen[dedup.Fingerprint(a)] = struct{}{}
		}
		hits++
	}
	if c.readCached(ctx, cache.KeyLastUpdated, &lastUpdated) {
		c.vm.LastUpdated = lastUpdated
	}
	if hits > 0 {
		c.vm.Loading = false
		c.logger.Info("view-model seeded from cache", "fragments", hits)
	}
}

func (c *Controller) readCached(ctx context.Context, key string, out any) bool {
	ok := c.cache.Read(ctx, key, out)
	if c.collector != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		c.collector.CacheRead(key, result)
	}
	return ok
}

// Snapshot returns a copy of the current view-model. Slices are shared but
// never mutated after publication; callers must treat them as read-only.
func (c *Controller) Snapshot() ViewModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vm := c.vm
	vm.SourceErrors = make(map[string]string, len(c.vm.SourceErrors))
	for k, v := range c.vm.SourceErrors {
		vm.SourceErrors[k] = v
	}
	return vm
}

// Start launches the background refresh loop after one immediate foreground
// cycle.
func (c *Controller) Start(ctx context.Context) {
	if err := c.Refresh(ctx, false); err != nil {
		c.logger.Error("initial refresh failed", "error", err)
	}
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.stopped || c.refresh != nil {
		return
	}
	c.refresh = scheduler.Repeat("dashboard-refresh", c.opts.RefreshInterval, c.logger, func(taskCtx context.Context) {
		if err := c.Refresh(taskCtx, true); err != nil {
			c.logger.Warn("background refresh failed", "error", err)
		}
	})
	c.logger.Info("background refresh started", "interval", c.opts.RefreshInterval.String())
}

// Stop cancels the refresh loop and every live assessment poller.
func (c *Controller) Stop() {
	c.taskMu.Lock()
	refresh := c.refresh
	pollers := c.pollers
	c.refresh = nil
	c.pollers = nil
	c.stopped = true
	c.taskMu.Unlock()

	if refresh != nil {
		refresh.Stop()
	}
	for _, p := range pollers {
		p.Stop()
	}
	c.logger.Info("aggregator stopped")
}

type refreshResult struct {
	threatIntel []model.ThreatIntelItem
	threatErr   error

	coins    []model.StablecoinSnapshot
	coinsErr error

	alerts    []model.StablecoinAlert
	alertsErr error

	threatHealth    model.ServiceHealth
	threatHealthErr error

	coinHealth    model.ServiceHealth
	coinHealthErr error
}

// Refresh runs one full fan-out/merge cycle. Concurrent callers coalesce into
// a single in-flight cycle; background cycles mark backgroundRefreshing
// instead of loading so stale data stays on screen.
func (c *Controller) Refresh(ctx context.Context, background bool) error {
	executed := false
	_, err, _ := c.flight.Do("dashboard", func() (any, error) {
		executed = true
		return nil, c.refreshOnce(ctx, background)
	})
	if !executed && c.collector != nil {
		c.collector.RefreshSkipped()
	}
	return err
}

func (c *Controller) refreshOnce(ctx context.Context, background bool) error {
	started := time.Now()

	c.mu.Lock()
	if background {
		c.vm.BackgroundRefreshing = true
	} else if len(c.vm.ThreatIntel) == 0 && len(c.vm.Stablecoins) == 0 && len(c.vm.StablecoinAlerts) == 0 {
		c.vm.Loading = true
	}
	c.mu.Unlock()
	c.broadcast()

	// Settled join: every source runs to completion and records its own
	// result slot. A failed sibling never cancels the others.
	var res refreshResult
	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		res.threatIntel, res.threatErr = c.threat.ListNews(ctx, c.opts.ThreatIntelLimit, false)
	}()
	go func() {
		defer wg.Done()
		res.coins, res.coinsErr = c.stablecoins.CurrentMetrics(ctx)
	}()
	go func() {
		defer wg.Done()
		res.alerts, res.alertsErr = c.stablecoins.ActiveAlerts(ctx)
	}()
	go func() {
		defer wg.Done()
		res.threatHealth, res.threatHealthErr = c.threat.Health(ctx)
	}()
	go func() {
		defer wg.Done()
		res.coinHealth, res.coinHealthErr = c.stablecoins.Health(ctx)
	}()
	wg.Wait()

	newAlerts, writes, outcome, err := c.merge(res)
	// Persist outside the lock: a slow cache backend must never stall
	// Snapshot readers or the websocket broadcast.
	for _, w := range writes {
		c.cache.Write(ctx, w.key, w.value)
	}
	if c.collector != nil {
		c.collector.ObserveRefresh(outcome, time.Since(started))
	}
	c.broadcast()
	if len(newAlerts) > 0 {
		c.publishAlerts(ctx, newAlerts)
	}

	c.logger.Info("refresh cycle finished",
		"outcome", outcome,
		"background", background,
		"elapsed", time.Since(started).String(),
		"new_alerts", len(newAlerts))
	return err
}

type pendingWrite struct {
	key   string
	value any
}

// merge folds one settled result set into the view-model under the lock, so
// readers never observe a torn per-domain state. Cache writes are returned
// for the caller to perform after the lock is released.
func (c *Controller) merge(res refreshResult) ([]model.StablecoinAlert, []pendingWrite, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var writes []pendingWrite

	failures := 0
	record := func(source string, err error) bool {
		if err == nil {
			delete(c.vm.SourceErrors, source)
			return false
		}
		failures++
		c.vm.SourceErrors[source] = err.Error()
		if c.collector != nil {
			c.collector.SourceFailure(source)
		}
		c.logger.Warn("source fetch failed", "source", source, "error", err)
		return true
	}

	if !record(SourceThreatIntel, res.threatErr) {
		c.vm.ThreatIntel = res.threatIntel
		writes = append(writes, pendingWrite{cache.KeyThreatIntel, res.threatIntel})
	}
	if !record(SourceStablecoins, res.coinsErr) {
		c.vm.Stablecoins = res.coins
		writes = append(writes, pendingWrite{cache.KeyStablecoins, res.coins})
	}

	var newAlerts []model.StablecoinAlert
	if !record(SourceStablecoinAlerts, res.alertsErr) {
		collapsed := dedup.Collapse(res.alerts)
		if c.collector != nil {
			c.collector.AlertsCollapsed(len(res.alerts) - len(collapsed))
		}
		for _, a := range collapsed {
			fp := dedup.Fingerprint(a)
			if _, ok := c.seen[fp]; !ok {
				c.seen[fp] = struct{}{}
				newAlerts = append(newAlerts, a)
			}
		}
		c.vm.StablecoinAlerts = collapsed
		c.vm.TopAlerts = dedup.Top(collapsed, c.opts.AlertDisplayLimit)
		writes = append(writes, pendingWrite{cache.KeyStablecoinAlerts, collapsed})
	}

	if !record(SourceThreatHealth, res.threatHealthErr) {
		c.vm.ThreatIntelHealth = res.threatHealth
	}
	if !record(SourceStablecoinHealth, res.coinHealthErr) {
		c.vm.StablecoinHealth = res.coinHealth
	}

	const total = 5
	var outcome string
	var err error
	switch {
	case failures == 0:
		outcome = "success"
	case failures < total:
		outcome = "partial"
	default:
		outcome = "failure"
		if len(c.vm.ThreatIntel) == 0 && len(c.vm.Stablecoins) == 0 && len(c.vm.StablecoinAlerts) == 0 {
			err = ErrAllSourcesDown
		}
	}

	if failures < total {
		c.vm.LastUpdated = time.Now().UTC().Format(time.RFC3339)
		writes = append(writes, pendingWrite{cache.KeyLastUpdated, c.vm.LastUpdated})
	}
	if err != nil {
		c.vm.Error = err.Error()
	} else {
		c.vm.Error = ""
	}
	c.vm.Loading = false
	c.vm.BackgroundRefreshing = false
	return newAlerts, writes, outcome, err
}

func (c *Controller) publishAlerts(ctx context.Context, alerts []model.StablecoinAlert) {
	if c.onAlert != nil {
		c.onAlert(alerts)
	}
	if c.publisher == nil {
		return
	}
	for _, a := range alerts {
		if err := c.publisher.PublishAlert(ctx, a); err != nil {
			c.logger.Warn("alert publish failed", "alert_id", a.ID, "error", err)
			continue
		}
		if c.collector != nil {
			c.collector.AlertPublished()
		}
	}
}

func (c *Controller) broadcast() {
	if c.onUpdate == nil {
		return
	}
	c.onUpdate(c.Snapshot())
}

// RefreshThreatIntel refetches only the threat-intel feed. force asks the
// upstream to re-scrape its sources and is rate-limited to one request per
// FreshScrapeMinInterval.
func (c *Controller) RefreshThreatIntel(ctx context.Context, force bool) ([]model.ThreatIntelItem, error) {
	if force && !c.freshLimiter.Allow() {
		return nil, ErrFreshScrapeThrottled
	}

	v, err, _ := c.flight.Do("threat-intel", func() (any, error) {
		c.mu.Lock()
		c.vm.ThreatIntelLoading = true
		c.mu.Unlock()
		c.broadcast()

		items, err := c.threat.ListNews(ctx, c.opts.ThreatIntelLimit, force)

		var lastUpdated string
		c.mu.Lock()
		c.vm.ThreatIntelLoading = false
		if err != nil {
			c.vm.SourceErrors[SourceThreatIntel] = err.Error()
		} else {
			delete(c.vm.SourceErrors, SourceThreatIntel)
			c.vm.ThreatIntel = items
			lastUpdated = time.Now().UTC().Format(time.RFC3339)
			c.vm.LastUpdated = lastUpdated
		}
		c.mu.Unlock()
		if err == nil {
			c.cache.Write(ctx, cache.KeyThreatIntel, items)
			c.cache.Write(ctx, cache.KeyLastUpdated, lastUpdated)
		}
		c.broadcast()

		if err != nil {
			if c.collector != nil {
				c.collector.SourceFailure(SourceThreatIntel)
			}
			return nil, fmt.Errorf("threat intel refresh: %w", err)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ThreatIntelItem), nil
}

// ClearCache drops every cached snapshot. The in-memory view-model is kept;
// the next cold start simply has nothing to seed from.
func (c *Controller) ClearCache(ctx context.Context) {
	c.cache.Clear(ctx)
}

// WatchAssessment polls one assessment's status and progress until it reaches
// a terminal state or the attempt budget runs out, then refreshes the
// assessment list once. The returned task is cancellable; after Stop it is
// nil and no poller is started.
func (c *Controller) WatchAssessment(id string, onProgress func(model.Assessment, model.AssessmentProgress)) *scheduler.Task {
	finalize := func(ctx context.Context) {
		if _, err := c.assessments.ListAssessments(ctx); err != nil {
			c.logger.Warn("final assessment list refresh failed", "assessment_id", id, "error", err)
		}
	}

	c.taskMu.Lock()
	if c.stopped {
		c.taskMu.Unlock()
		c.logger.Warn("assessment watch rejected, aggregator stopped", "assessment_id", id)
		return nil
	}
	task := scheduler.Poll("assessment-"+id, c.opts.PollInterval, c.opts.PollMaxAttempts, c.logger,
		func(ctx context.Context, attempt int) bool {
			assessment, err := c.assessments.GetAssessment(ctx, id)
			if err != nil {
				c.logger.Warn("assessment poll failed", "assessment_id", id, "attempt", attempt, "error", err)
				return false
			}
			var progress model.AssessmentProgress
			if !assessment.Status.Terminal() {
				if progress, err = c.assessments.GetAssessmentProgress(ctx, id); err != nil {
					c.logger.Debug("assessment progress unavailable", "assessment_id", id, "error", err)
				}
			}
			if onProgress != nil {
				onProgress(assessment, progress)
			}
			if assessment.Status.Terminal() {
				c.logger.Info("assessment finished", "assessment_id", id, "status", string(assessment.Status), "attempts", attempt)
				finalize(ctx)
				return true
			}
			return false
		},
		func() {
			finalize(context.Background())
		})
	c.pollers = append(c.pollers, task)
	c.taskMu.Unlock()

	// Drop the handle once the poller's goroutine exits, so long-lived
	// processes do not accumulate finished tasks.
	go func() {
		<-task.Done()
		c.removePoller(task)
	}()
	return task
}

func (c *Controller) removePoller(task *scheduler.Task) {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	for i, t := range c.pollers {
		if t == task {
			c.pollers = append(c.pollers[:i], c.pollers[i+1:]...)
			return
		}
	}
}
