// Package orchestrator drives the daily digest state machine. Each run
// moves PENDING -> COLLECTING -> RANKING -> SUMMARIZING -> ASSEMBLING ->
// SENDING -> SENT, persisting every transition so a crashed process can
// resume from the last completed stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dailybrief/internal/assemble"
	"dailybrief/internal/core"
	"dailybrief/internal/logger"
	"dailybrief/internal/ranker"
	"dailybrief/internal/store"
	"dailybrief/internal/summarize"
)

const dateLayout = "2006-01-02"

// defaultScheduleTime is used when a profile has no schedule configured.
const defaultScheduleTime = "07:00"

// Summarizer produces summaries for the selected items of a run.
type Summarizer interface {
	SummarizeBatch(ctx context.Context, items []core.Item) ([]summarize.Pair, []summarize.ItemFailure, error)
}

// Dispatcher delivers an assembled digest to a user's address.
type Dispatcher interface {
	Dispatch(ctx context.Context, to string, doc core.DigestDocument) error
}

// Options tunes the orchestrator.
type Options struct {
	Workers      int            // Concurrent run executions per tick
	RecoveryDays int            // How far back the failure sweep looks
	LookbackDays int            // Sent-item dedup window passed to the ranker
	Tick         time.Duration  // Scheduler loop interval
	Location     *time.Location // Governs run dates and schedule times
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Workers:      4,
		RecoveryDays: 3,
		LookbackDays: 14,
		Tick:         time.Minute,
		Location:     time.UTC,
	}
}

// Orchestrator executes digest runs against the store, ranker,
// summarization gateway, and dispatcher.
type Orchestrator struct {
	store      *store.Store
	ranker     *ranker.Ranker
	summarizer Summarizer
	dispatcher Dispatcher
	opts       Options

	mu       sync.Mutex
	inFlight map[string]bool // Run IDs currently executing in this process
}

// New wires an orchestrator. Zero option fields fall back to defaults.
func New(st *store.Store, rk *ranker.Ranker, sum Summarizer, disp Dispatcher, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.RecoveryDays <= 0 {
		opts.RecoveryDays = def.RecoveryDays
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = def.LookbackDays
	}
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}
	return &Orchestrator{
		store:      st,
		ranker:     rk,
		summarizer: sum,
		dispatcher: disp,
		opts:       opts,
		inFlight:   make(map[string]bool),
	}
}

// RunLoop ticks until the context is cancelled. Every tick sweeps failed
// runs back to PENDING and then triggers whatever is due. The first pass
// happens immediately so a restart does not wait a full tick to resume.
func (o *Orchestrator) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.Tick)
	defer ticker.Stop()

	for {
		now := time.Now()
		if _, err := o.RecoverFailedRuns(ctx, now); err != nil {
			logger.Error("recovery sweep failed", err)
		}
		if _, err := o.TriggerDueRuns(ctx, now); err != nil {
			logger.Error("trigger pass failed", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TriggerDueRuns resumes every non-terminal run and creates runs for
// users whose schedule time has passed today. Creation is idempotent: a
// second tick on the same day joins the existing run instead of starting
// another. Returns the number of runs processed.
func (o *Orchestrator) TriggerDueRuns(ctx context.Context, now time.Time) (int, error) {
	pending := make(map[string]core.DigestRun)

	resumable, err := o.store.ResumableRuns()
	if err != nil {
		return 0, fmt.Errorf("list resumable runs: %w", err)
	}
	for _, run := range resumable {
		pending[run.ID] = run
	}

	profiles, err := o.store.ListProfiles()
	if err != nil {
		return 0, fmt.Errorf("list profiles: %w", err)
	}

	local := now.In(o.opts.Location)
	runDate := local.Format(dateLayout)
	for _, profile := range profiles {
		if !scheduleDue(profile.ScheduleTime, local) {
			continue
		}
		run, created, err := o.store.CreateRun(profile.UserID, runDate, now)
		if err != nil {
			logger.Error("failed to create run", err, "user_id", profile.UserID, "run_date", runDate)
			continue
		}
		if run.Status.Terminal() {
			continue // already delivered today
		}
		if created {
			logger.Info("run created", "run_id", run.ID, "user_id", run.UserID, "run_date", runDate)
		}
		pending[run.ID] = *run
	}

	runs := make([]core.DigestRun, 0, len(pending))
	for _, run := range pending {
		runs = append(runs, run)
	}
	o.processRuns(ctx, runs, now)
	return len(runs), nil
}

// RecoverFailedRuns finds (user, date) pairs inside the recovery window
// whose only runs are FAILED and opens a fresh PENDING run for each. The
// new runs execute on the next trigger pass. Returns how many were opened.
func (o *Orchestrator) RecoverFailedRuns(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fromDate := now.In(o.opts.Location).AddDate(0, 0, -o.opts.RecoveryDays).Format(dateLayout)
	failed, err := o.store.FailedRunDates(fromDate)
	if err != nil {
		return 0, fmt.Errorf("list failed runs: %w", err)
	}

	opened := 0
	for _, run := range failed {
		fresh, created, err := o.store.CreateRun(run.UserID, run.RunDate, now)
		if err != nil {
			logger.Error("failed to reopen run", err, "user_id", run.UserID, "run_date", run.RunDate)
			continue
		}
		if created {
			opened++
			logger.Info("failed run reopened", "run_id", fresh.ID, "user_id", run.UserID, "run_date", run.RunDate)
		}
	}
	return opened, nil
}

// GetRunStatus returns the most recent run for (userID, date), or nil
// when no run exists for that day.
func (o *Orchestrator) GetRunStatus(userID, date string) (*core.DigestRun, error) {
	return o.store.GetLatestRun(userID, date)
}

// processRuns executes runs on a fixed-size worker pool.
func (o *Orchestrator) processRuns(ctx context.Context, runs []core.DigestRun, now time.Time) {
	if len(runs) == 0 {
		return
	}

	tasks := make(chan core.DigestRun)
	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for run := range tasks {
				o.executeRun(ctx, run, now)
			}
		}()
	}

	for _, run := range runs {
		select {
		case tasks <- run:
		case <-ctx.Done():
			close(tasks)
			wg.Wait()
			return
		}
	}
	close(tasks)
	wg.Wait()
}

// executeRun walks one run through the state machine until it reaches a
// terminal status or the context is cancelled. Cancellation stops at a
// stage boundary; the persisted status lets the next tick resume there.
func (o *Orchestrator) executeRun(ctx context.Context, run core.DigestRun, now time.Time) {
	o.mu.Lock()
	if o.inFlight[run.ID] {
		o.mu.Unlock()
		return
	}
	o.inFlight[run.ID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, run.ID)
		o.mu.Unlock()
	}()

	profile, err := o.store.GetProfile(run.UserID)
	if err != nil {
		o.failRun(&run, fmt.Sprintf("load profile: %v", err))
		return
	}
	if profile == nil {
		o.failRun(&run, "user profile no longer exists")
		return
	}

	var (
		candidates []core.Item
		collected  bool
		pairs      []summarize.Pair
		havePairs  bool
		doc        core.DigestDocument
		haveDoc    bool
	)

	for !run.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			logger.Warn("run paused", "run_id", run.ID, "status", string(run.Status))
			return
		}

		switch run.Status {
		case core.StatusPending:
			if err := o.advance(&run, core.StatusCollecting); err != nil {
				return
			}

		case core.StatusCollecting:
			candidates, err = o.collect(*profile)
			if err != nil {
				o.failRun(&run, fmt.Sprintf("collect items: %v", err))
				return
			}
			collected = true

			// Snapshot the high-water mark now; the profile watermark
			// only moves to it once the digest is actually SENT.
			watermark := run.StartedAt
			for _, item := range candidates {
				if item.DiscoveredAt.After(watermark) {
					watermark = item.DiscoveredAt
				}
			}
			if err := o.store.SetRunWatermark(run.ID, watermark); err != nil {
				o.failRun(&run, fmt.Sprintf("store watermark: %v", err))
				return
			}
			run.Watermark = watermark

			if err := o.advance(&run, core.StatusRanking); err != nil {
				return
			}

		case core.StatusRanking:
			if !collected {
				candidates, err = o.collect(*profile)
				if err != nil {
					o.failRun(&run, fmt.Sprintf("collect items: %v", err))
					return
				}
				collected = true
			}

			fromDate := now.In(o.opts.Location).AddDate(0, 0, -o.opts.LookbackDays).Format(dateLayout)
			exclude, err := o.store.SentFingerprints(run.UserID, fromDate)
			if err != nil {
				o.failRun(&run, fmt.Sprintf("load sent history: %v", err))
				return
			}

			selected := o.ranker.Rank(candidates, *profile, exclude, profile.DigestMaxItems)
			fingerprints := make([]string, len(selected))
			for i, item := range selected {
				fingerprints[i] = item.Fingerprint
			}
			if err := o.store.SetRunSelection(run.ID, fingerprints); err != nil {
				o.failRun(&run, fmt.Sprintf("store selection: %v", err))
				return
			}
			run.Selected = fingerprints
			logger.Info("items ranked", "run_id", run.ID, "candidates", len(candidates), "selected", len(fingerprints))

			if err := o.advance(&run, core.StatusSummarizing); err != nil {
				return
			}

		case core.StatusSummarizing:
			pairs, err = o.summarizeSelection(ctx, &run)
			if err != nil {
				return
			}
			havePairs = true

			if err := o.advance(&run, core.StatusAssembling); err != nil {
				return
			}

		case core.StatusAssembling:
			if !havePairs {
				// Resumed run; the cache answers without new model calls.
				pairs, err = o.summarizeSelection(ctx, &run)
				if err != nil {
					return
				}
				havePairs = true
			}
			doc = assemble.Assemble(run.UserID, pairs, len(run.Selected) > 0, now)
			haveDoc = true

			if err := o.advance(&run, core.StatusSending); err != nil {
				return
			}

		case core.StatusSending:
			if !haveDoc {
				if !havePairs {
					pairs, err = o.summarizeSelection(ctx, &run)
					if err != nil {
						return
					}
					havePairs = true
				}
				doc = assemble.Assemble(run.UserID, pairs, len(run.Selected) > 0, now)
				haveDoc = true
			}

			if err := o.dispatcher.Dispatch(ctx, profile.Email, doc); err != nil {
				o.failRun(&run, fmt.Sprintf("dispatch digest: %v", err))
				return
			}

			if err := o.advance(&run, core.StatusSent); err != nil {
				return
			}

		default:
			o.failRun(&run, fmt.Sprintf("unknown run status %q", run.Status))
			return
		}
	}

	if run.Status == core.StatusSent {
		watermark := run.Watermark
		if watermark.IsZero() {
			watermark = run.StartedAt
		}
		if err := o.store.AdvanceWatermark(run.UserID, watermark); err != nil {
			logger.Error("failed to advance watermark", err, "run_id", run.ID, "user_id", run.UserID)
			return
		}
		logger.Info("digest sent", "run_id", run.ID, "user_id", run.UserID, "run_date", run.RunDate)
	}
}

// collect loads items discovered after the profile's watermark, keeping
// only subscribed sources.
func (o *Orchestrator) collect(profile core.UserProfile) ([]core.Item, error) {
	items, err := o.store.ItemsDiscoveredAfter(profile.LastRunWatermark)
	if err != nil {
		return nil, err
	}

	subscribed := items[:0]
	for _, item := range items {
		if profile.SubscribedTo(item.SourceName) {
			subscribed = append(subscribed, item)
		}
	}
	return subscribed, nil
}

// summarizeSelection loads the run's selected items and summarizes them.
// Individual failures drop items from the digest; a fully failed batch
// with transient causes fails the run so recovery can retry it later.
func (o *Orchestrator) summarizeSelection(ctx context.Context, run *core.DigestRun) ([]summarize.Pair, error) {
	items := make([]core.Item, 0, len(run.Selected))
	for _, fingerprint := range run.Selected {
		item, err := o.store.GetItem(fingerprint)
		if err != nil {
			o.failRun(run, fmt.Sprintf("load selected item: %v", err))
			return nil, err
		}
		if item == nil {
			logger.Warn("selected item missing", "run_id", run.ID, "fingerprint", fingerprint)
			continue
		}
		items = append(items, *item)
	}

	pairs, failures, err := o.summarizer.SummarizeBatch(ctx, items)
	if err != nil {
		if errors.Is(err, summarize.ErrExhausted) {
			o.failRun(run, "summarization unavailable for every selected item")
		} else {
			o.failRun(run, fmt.Sprintf("summarize items: %v", err))
		}
		return nil, err
	}
	for _, failure := range failures {
		logger.Warn("item dropped from digest", "run_id", run.ID,
			"fingerprint", failure.Fingerprint, "error", failure.Err.Error())
	}
	return pairs, nil
}

// advance persists a forward transition and mirrors it on the local copy.
func (o *Orchestrator) advance(run *core.DigestRun, to core.RunStatus) error {
	if err := o.store.TransitionRun(run.ID, to); err != nil {
		logger.Error("failed to advance run", err, "run_id", run.ID, "to", string(to))
		return err
	}
	run.Status = to
	return nil
}

// failRun marks the run FAILED; the recovery sweep may reopen it.
func (o *Orchestrator) failRun(run *core.DigestRun, reason string) {
	logger.Error("run failed", errors.New(reason), "run_id", run.ID, "user_id", run.UserID, "status", string(run.Status))
	if err := o.store.FailRun(run.ID, reason); err != nil {
		logger.Error("failed to record run failure", err, "run_id", run.ID)
		return
	}
	run.Status = core.StatusFailed
	run.FailureReason = reason
}

// scheduleDue reports whether the local clock has passed the profile's
// "HH:MM" schedule time today. Unparseable schedules fall back to the
// default so a bad profile still gets a digest.
func scheduleDue(schedule string, local time.Time) bool {
	if schedule == "" {
		schedule = defaultScheduleTime
	}
	at, err := time.Parse("15:04", schedule)
	if err != nil {
		at, _ = time.Parse("15:04", defaultScheduleTime)
	}
	due := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, local.Location())
	return !local.Before(due)
}
