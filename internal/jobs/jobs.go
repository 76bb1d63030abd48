// Package jobs implements BackgroundJobs (§4.N): the periodic autostart/
// image refresh loop and the expired-share sweep, scheduled with
// robfig/cron/v3 and shaped after api/internal/services/session_reconciler.go's
// context-cancellable Start/Stop loop.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamspace/sealskin/internal/autostart"
	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/events"
	"github.com/streamspace/sealskin/internal/images"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/share"
)

const imagePullSpacing = 2 * time.Second

// Runner owns the two cron-scheduled loops BackgroundJobs describes.
type Runner struct {
	Catalog   *catalog.Catalog
	Autostart *autostart.Cache
	Images    *images.Cache
	Shares    *share.Store
	Events    *events.Publisher

	AppStores                   []catalog.AppStore
	AutoUpdateIntervalSeconds   int
	ShareCleanupIntervalSeconds int

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Start schedules both loops and returns immediately; call Stop to tear
// down. Each tick runs in a context derived from the Runner's own,
// cancelled together on Stop.
func (r *Runner) Start() error {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.cron = cron.New()

	if _, err := r.cron.AddFunc(everySpec(r.AutoUpdateIntervalSeconds, 3600), r.runAutostartRefresh); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(everySpec(r.ShareCleanupIntervalSeconds, 600), r.runShareSweep); err != nil {
		return err
	}
	r.cron.Start()
	logger.Jobs().Info().Msg("background jobs scheduled")
	return nil
}

// Stop cancels in-flight job contexts and blocks until the cron scheduler's
// own goroutines have drained.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	stopCtx := r.cron.Stop()
	r.cancel()
	<-stopCtx.Done()
	logger.Jobs().Info().Msg("background jobs stopped")
}

func everySpec(seconds, fallback int) string {
	if seconds <= 0 {
		seconds = fallback
	}
	return "@every " + time.Duration(seconds*int(time.Second)).String()
}

// runAutostartRefresh refreshes every configured app store's autostart
// index, then pulls a fresh image for each distinct auto_update-enabled
// app, spaced ~2s apart per §4.N.
func (r *Runner) runAutostartRefresh() {
	ctx := r.ctx
	for _, st := range r.AppStores {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.Autostart.RefreshStore(ctx, st.Name, st.URL)
	}

	seen := make(map[string]bool)
	for _, app := range r.Catalog.AutoUpdateApps() {
		image := app.ProviderConfig.Image
		if image == "" || seen[image] {
			continue
		}
		seen[image] = true

		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.Images.PullAndCache(ctx, image); err != nil {
			logger.Jobs().Warn().Err(err).Str("image", image).Msg("periodic image pull failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(imagePullSpacing):
		}
	}
}

// runShareSweep deletes every expired PublicShare and emits a best-effort
// lifecycle event per removed share.
func (r *Runner) runShareSweep() {
	removed := r.Shares.SweepExpired(time.Now())
	for _, id := range removed {
		r.Events.Publish(events.Event{Type: "share.expired", SessionID: id, TS: time.Now().Unix()})
	}
	if len(removed) > 0 {
		logger.Jobs().Info().Int("count", len(removed)).Msg("swept expired shares")
	}
}
