package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scadenze/internal/amqp"
	"scadenze/internal/cache"
	"scadenze/internal/core"
	"scadenze/internal/metrics"
	"scadenze/internal/ports"
)

type DuePublisher interface {
	PublishOccurrenceDue(ctx context.Context, msg *amqp.OccurrenceDueMessage) error
}

// DueProcessorConfig holds configuration for the due scan.
type DueProcessorConfig struct {
	// PollInterval is how often items are scanned (default: 1h).
	PollInterval time.Duration

	// NoticeDays announces occurrences dated up to this many days after
	// today (default: 3). Overdue occurrences are always announced.
	NoticeDays int

	// RenotifyAfter suppresses repeat notices for the same occurrence and
	// state within this period (default: 24h).
	RenotifyAfter time.Duration
}

func DefaultDueProcessorConfig() DueProcessorConfig {
	return DueProcessorConfig{
		PollInterval:  time.Hour,
		NoticeDays:    3,
		RenotifyAfter: 24 * time.Hour,
	}
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Checked         int
	Notified        int
	Overdue         int
	HorizonExceeded int
	Failed          int
}

// DueProcessor periodically resolves the next due occurrence of every
// active item and publishes a notice for those due soon or overdue.
type DueProcessor struct {
	items     ports.ItemReader
	loader    *CompletionLoader
	resolver  *NextDueResolver
	publisher DuePublisher
	metrics   *metrics.Registry
	config    DueProcessorConfig
	now       func() time.Time
	notified  cache.Cache[time.Time]

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewDueProcessor(
	items ports.ItemReader,
	loader *CompletionLoader,
	resolver *NextDueResolver,
	publisher DuePublisher,
	m *metrics.Registry,
	config DueProcessorConfig,
) *DueProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultDueProcessorConfig().PollInterval
	}
	if config.NoticeDays < 0 {
		config.NoticeDays = 0
	}
	if config.RenotifyAfter <= 0 {
		config.RenotifyAfter = DefaultDueProcessorConfig().RenotifyAfter
	}
	return &DueProcessor{
		items:     items,
		loader:    loader,
		resolver:  resolver,
		publisher: publisher,
		metrics:   m,
		config:    config,
		now:       time.Now,
		notified:  cache.NewLRUCache[time.Time](4096, config.RenotifyAfter),
	}
}

// Start begins the scan loop. Returns an error if already running.
func (p *DueProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("due processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Due processor started",
		"poll_interval", p.config.PollInterval,
		"notice_days", p.config.NoticeDays)
	return nil
}

// Stop signals the loop and waits for the current scan to finish. After a
// timed-out Stop it may be called again to keep waiting.
func (p *DueProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	doneCh := p.doneCh
	p.mu.Unlock()

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Due processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Due processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *DueProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *DueProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.scanAndLog(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanAndLog(ctx)
		}
	}
}

func (p *DueProcessor) scanAndLog(ctx context.Context) {
	if _, err := p.ScanOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "Due scan failed", "error", err)
	}
}

// ScanOnce runs a single scan as of today.
func (p *DueProcessor) ScanOnce(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveScan(time.Since(start)) }()

	var res ScanResult
	asOf := core.DateOf(p.now())

	items, err := p.items.ListRecurringItems(ctx)
	if err != nil {
		return res, fmt.Errorf("list recurring items: %w", err)
	}
	completed, err := p.loader.LoadFor(ctx, p.resolver, asOf)
	if err != nil {
		return res, fmt.Errorf("load completions: %w", err)
	}

	horizon := asOf.AddDays(p.config.NoticeDays)
	for _, item := range items {
		if !item.Active {
			continue
		}
		res.Checked++

		next, err := p.resolver.NextDue(item, completed, asOf)
		if err != nil {
			res.Failed++
			p.metrics.ObserveResolution(metrics.OutcomeError)
			slog.ErrorContext(ctx, "Failed to resolve next due occurrence",
				"item_id", item.ID, "name", item.Name, "error", err)
			continue
		}
		due, ok := next.Get()
		if !ok {
			p.metrics.ObserveResolution(metrics.OutcomeNone)
			continue
		}
		if due.HorizonExceeded {
			res.HorizonExceeded++
			p.metrics.ObserveResolution(metrics.OutcomeHorizon)
			slog.WarnContext(ctx, "Next due search exhausted",
				"item_id", item.ID,
				"name", item.Name,
				"last_date", due.Date.String(),
				"search_depth", p.resolver.Config().SearchDepth)
			continue
		}
		if due.Overdue {
			res.Overdue++
			p.metrics.ObserveResolution(metrics.OutcomeOverdue)
		} else {
			p.metrics.ObserveResolution(metrics.OutcomeDue)
		}
		if !due.Overdue && due.Date.After(horizon) {
			continue
		}
		if p.notify(ctx, item, due) {
			res.Notified++
		}
	}

	slog.InfoContext(ctx, "Due scan complete",
		"as_of", asOf.String(),
		"checked", res.Checked,
		"notified", res.Notified,
		"overdue", res.Overdue,
		"horizon_exceeded", res.HorizonExceeded,
		"failed", res.Failed)
	return res, nil
}

// notify publishes a notice unless one for the same occurrence and state
// went out recently.
func (p *DueProcessor) notify(ctx context.Context, item core.RecurringItem, due Due) bool {
	key := fmt.Sprintf("%s|%t", due.ID, due.Overdue)
	if _, seen := p.notified.Get(key); seen {
		return false
	}
	if p.publisher == nil {
		slog.InfoContext(ctx, "Occurrence due (no publisher configured)",
			"occurrence_id", due.ID, "date", due.Date.String(), "overdue", due.Overdue)
		p.notified.Set(key, p.now())
		return false
	}

	err := p.publisher.PublishOccurrenceDue(ctx, amqp.NewOccurrenceDueMessage(item, due.Occurrence, due.Overdue))
	p.metrics.ObserveNotification(err)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish due notice",
			"occurrence_id", due.ID, "error", err)
		return false
	}
	p.notified.Set(key, p.now())
	return true
}
