// Package board ties the feed client, the service cache and the
// render scheduler together into the running departure board.
package board

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/railboard/railboard/pkg/config"
	"github.com/railboard/railboard/pkg/railapi"
	"github.com/railboard/railboard/pkg/render"
	"github.com/railboard/railboard/pkg/servicecache"
	"github.com/railboard/railboard/pkg/stats"
)

// noServicesText is shown on the top row when the feed has nothing
// left to depart.
const noServicesText = "No more services"

// shutdownGrace bounds how long Run waits for the in-flight fetch
// after its context is cancelled.
const shutdownGrace = 5 * time.Second

// Board runs the fetch and render loops. Fetches happen on a worker
// goroutine so a slow feed never stalls a frame; results are staged
// and folded in between frames on the render side.
type Board struct {
	cfg       config.Config
	cache     *servicecache.Cache
	client    *railapi.Client
	scheduler *render.Scheduler
	log       zerolog.Logger

	workers      conc.WaitGroup
	fetchPending atomic.Bool
	fetchDone    atomic.Bool

	stagingMu     sync.Mutex
	stagedBody    []byte
	stagedVersion int64
	stagedErr     error

	renderState atomic.Value
}

type Option func(*Board)

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Board) {
		b.log = logger
	}
}

func New(cfg config.Config, cache *servicecache.Cache, client *railapi.Client, scheduler *render.Scheduler, opts ...Option) *Board {
	b := &Board{
		cfg:       cfg,
		cache:     cache,
		client:    client,
		scheduler: scheduler,
		log:       log.Logger,
	}
	b.renderState.Store(render.StateIdle.String())
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RenderState reports the scheduler state as of the last frame. It is
// safe to call from other goroutines, unlike the scheduler itself.
func (b *Board) RenderState() string {
	return b.renderState.Load().(string)
}

// Run performs the initial synchronous load and then alternates
// between folding in completed background fetches and drawing frames
// until the context is cancelled.
func (b *Board) Run(ctx context.Context) error {
	if err := b.bootstrap(ctx); err != nil {
		return err
	}
	b.refreshRows()
	b.scheduler.TriggerFullRedraw()

	frame := time.NewTicker(b.cfg.Display.ScrollDelay)
	defer frame.Stop()
	refresh := time.NewTicker(b.cfg.Display.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return b.drain()
		case <-refresh.C:
			b.startFetch(ctx)
		case now := <-frame.C:
			b.applyCompletedFetch()
			if b.scheduler.RenderFrame(now) {
				stats.FramesRendered.Inc()
			}
			b.renderState.Store(b.scheduler.State().String())
		}
	}
}

// bootstrap loads the reason table and the first snapshot on the
// caller's goroutine, so the board never starts with an empty canvas.
func (b *Board) bootstrap(ctx context.Context) error {
	// The cache refuses snapshots until a reason table is installed,
	// so fall back to an empty one when the reference fetch fails.
	// Reasons only enrich row text, the board works without them.
	codes := []byte("[]")
	if url := b.cfg.API.ReasonCodesURL; url != "" {
		fetched, err := b.client.ReasonCodes(ctx, url)
		if err != nil {
			b.log.Warn().Err(err).Msg("Could not load reason codes")
		} else {
			codes = fetched
		}
	}
	if err := b.cache.LoadReasonCodes(codes); err != nil {
		b.log.Warn().Err(err).Msg("Could not parse reason codes")
		if err := b.cache.LoadReasonCodes([]byte("[]")); err != nil {
			return err
		}
	}

	if platform := b.cfg.Station.Platform; platform != "" {
		b.cache.SetPlatform(platform)
	}

	body, version, err := b.fetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}
	if err := b.cache.Bootstrap(body, version); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	b.observeSnapshot()
	return nil
}

func (b *Board) fetchSnapshot(ctx context.Context) ([]byte, int64, error) {
	start := time.Now()
	body, version, err := b.client.Departures(ctx, b.cfg.Station.CRS, b.cfg.Station.MaxServices)
	stats.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		stats.FetchesTotal.WithLabelValues("error").Inc()
		return nil, 0, err
	}
	stats.FetchesTotal.WithLabelValues("success").Inc()
	return body, version, nil
}

// startFetch kicks off a background fetch unless one is already in
// flight.
func (b *Board) startFetch(ctx context.Context) {
	if b.fetchPending.Swap(true) {
		return
	}

	b.workers.Go(func() {
		body, version, err := b.fetchSnapshot(ctx)

		b.stagingMu.Lock()
		b.stagedBody = body
		b.stagedVersion = version
		b.stagedErr = err
		b.stagingMu.Unlock()

		b.fetchDone.Store(true)
	})
}

// applyCompletedFetch folds a finished background fetch into the
// cache and pushes the refreshed rows. It runs between frames on the
// render side so the scheduler is only touched from one goroutine.
func (b *Board) applyCompletedFetch() {
	if !b.fetchDone.Swap(false) {
		return
	}

	b.stagingMu.Lock()
	body, version, err := b.stagedBody, b.stagedVersion, b.stagedErr
	b.stagedBody = nil
	b.stagingMu.Unlock()
	b.fetchPending.Store(false)

	if err != nil {
		// Keep showing the previous snapshot.
		b.log.Warn().Err(err).Msg("Background fetch failed")
		return
	}
	if err := b.cache.Update(body, version); err != nil {
		b.log.Error().Err(err).Msg("Snapshot rejected")
		return
	}
	b.observeSnapshot()
	b.refreshRows()
}

func (b *Board) observeSnapshot() {
	stats.SnapshotServices.Set(float64(b.cache.NumServices()))
	stats.SnapshotVersion.Set(float64(b.cache.Version()))
}

// drain waits for the fetch worker with a bounded grace period.
func (b *Board) drain() error {
	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
		b.log.Warn().Msg("Fetch worker did not stop in time")
		return nil
	}
}

// refreshRows rebuilds every row from the cache and pushes the
// results at the current snapshot version. A failing row is logged
// and skipped so the rest of the board stays current.
func (b *Board) refreshRows() {
	version := b.cache.Version()

	rows := []struct {
		name string
		push func(version int64) error
	}{
		{"top", b.pushTopRow},
		{"calling-points", b.pushCallingPoints},
		{"second", b.pushSecondRow},
		{"third", b.pushThirdRow},
		{"bottom", b.pushBottomRow},
	}
	for _, row := range rows {
		if err := row.push(version); err != nil {
			stats.RowErrors.WithLabelValues(row.name).Inc()
			b.log.Error().Err(err).Str("row", row.name).Msg("Row refresh failed")
		}
	}
}

func (b *Board) pushTopRow(version int64) error {
	slot, trainID := b.cache.FirstDeparture()
	if slot == servicecache.NoService {
		if err := b.scheduler.UpdateTopDeparture(noServicesText, version); err != nil {
			return err
		}
		return b.scheduler.UpdateTopStatus("", "", version)
	}

	info, err := b.cache.BasicInfo(slot, trainID)
	if err != nil {
		return err
	}
	if err := b.scheduler.UpdateTopDeparture(b.departureText(slot, trainID, &info), version); err != nil {
		return err
	}

	coaches := ""
	if info.Coaches > 0 {
		coaches = fmt.Sprintf("%d Coaches", info.Coaches)
	}
	return b.scheduler.UpdateTopStatus(info.EstimatedDeparture, coaches, version)
}

// departureText renders "09:10 London Paddington", with the platform
// appended when the board is not already pinned to one.
func (b *Board) departureText(slot int, trainID string, info *servicecache.BasicInfo) string {
	text := info.ScheduledDeparture + " " + info.Destination

	if _, filtered := b.cache.SelectedPlatform(); !filtered {
		if platform, err := b.cache.Platform(slot, trainID); err == nil && platform != "" {
			text += " Plat " + platform
		}
	}
	return text
}

// pushCallingPoints fills both variants of the scrolling row: the
// route, and the service message explaining a cancellation or delay.
// A cancelled service has no route worth showing, so the reason takes
// the whole row.
func (b *Board) pushCallingPoints(version int64) error {
	slot, trainID := b.cache.FirstDeparture()
	if slot == servicecache.NoService {
		if err := b.scheduler.UpdateCallingPoints("", version); err != nil {
			return err
		}
		return b.scheduler.UpdateServiceMessage("", version)
	}

	info, err := b.cache.BasicInfo(slot, trainID)
	if err != nil {
		return err
	}

	message := ""
	switch {
	case info.IsCancelled:
		message = info.CancelReason
	case info.DelayReason != "":
		message = info.DelayReason
	default:
		message = info.AdhocAlerts
	}

	points := ""
	if !info.IsCancelled {
		if points, err = b.cache.CallingPoints(slot, trainID, true); err != nil {
			return err
		}
	}

	if err := b.scheduler.UpdateCallingPoints(points, version); err != nil {
		return err
	}
	return b.scheduler.UpdateServiceMessage(message, version)
}

func (b *Board) pushSecondRow(version int64) error {
	text, err := b.ordinalText(2)
	if err != nil {
		return err
	}
	return b.scheduler.UpdateSecondDeparture(text, version)
}

func (b *Board) pushThirdRow(version int64) error {
	text, err := b.ordinalText(3)
	if err != nil {
		return err
	}
	return b.scheduler.UpdateThirdDeparture(text, version)
}

var ordinalLabels = map[int]string{2: "2nd", 3: "3rd"}

func (b *Board) ordinalText(ordinal int) (string, error) {
	slot, trainID, err := b.cache.Departure(ordinal)
	if err != nil {
		return "", err
	}
	if slot == servicecache.NoService {
		return "", nil
	}

	info, err := b.cache.BasicInfo(slot, trainID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s  %s", ordinalLabels[ordinal], b.departureText(slot, trainID, &info), info.EstimatedDeparture), nil
}

func (b *Board) pushBottomRow(version int64) error {
	location := ""
	if slot, trainID := b.cache.FirstDeparture(); slot != servicecache.NoService {
		var err error
		if location, err = b.cache.ServiceLocation(slot, trainID); err != nil {
			return err
		}
	}
	if err := b.scheduler.UpdateLocation(location, version); err != nil {
		return err
	}

	message := ""
	if b.cfg.Display.ShowMessages {
		message = b.cache.NetworkMessage()
	}
	return b.scheduler.UpdateMessage(message, version)
}
