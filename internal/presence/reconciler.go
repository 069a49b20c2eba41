// internal/presence/reconciler.go
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/roster"
	"github.com/sirupsen/logrus"
)

// Reconciler repairs game documents that lost their players or their host.
// All of its work is advisory: failures are logged and never stop the game.
type Reconciler struct {
	gw     *gateway.Gateway
	games  string
	logger *logrus.Logger

	mu sync.Mutex
	// games whose backend would not keep a hostId; not retried
	hostless map[string]bool
}

// ErrHostNotStored is returned by a backfill the backend accepted without
// keeping hostId.
var ErrHostNotStored = errors.New("hostId was not stored")

// NewReconciler returns a reconciler for the games collection.
func NewReconciler(gw *gateway.Gateway, gamesCollection string, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{gw: gw, games: gamesCollection, logger: logger, hostless: make(map[string]bool)}
}

// backfillHost writes hostId and checks that it stuck. A backend schema
// without the attribute marks the game hostless, so later updates of the
// same game do not write again.
func (r *Reconciler) backfillHost(ctx context.Context, game *models.Game, host string) error {
	r.mu.Lock()
	skip := r.hostless[game.ID]
	r.mu.Unlock()
	if skip {
		return ErrHostNotStored
	}

	rec, err := r.gw.UpdateRecord(ctx, r.games, game.ID, map[string]interface{}{"hostId": host})
	if err == nil && rec.String("hostId") == "" {
		err = ErrHostNotStored
	}
	if errors.Is(err, gateway.ErrAllFieldsRejected) || errors.Is(err, ErrHostNotStored) {
		r.mu.Lock()
		r.hostless[game.ID] = true
		r.mu.Unlock()
	}
	return err
}

// Reconcile inspects one observed game update. An empty game that is not
// waiting is set back to waiting so its code can be reclaimed; a populated
// game without hostId gets one from its first player. It reports whether a
// write was attempted.
func (r *Reconciler) Reconcile(ctx context.Context, game *models.Game) bool {
	if game == nil {
		return false
	}
	log := r.logger.WithFields(logrus.Fields{"gameId": game.ID, "code": game.Code})

	if len(game.Players) == 0 {
		if game.Status == models.StatusWaiting {
			return false
		}
		if _, err := r.gw.UpdateRecord(ctx, r.games, game.ID, map[string]interface{}{"status": models.StatusWaiting}); err != nil {
			log.Warnf("failed to reset empty game to waiting: %v", err)
		} else {
			log.Info("empty game reset to waiting")
		}
		return true
	}

	if game.HostID == "" {
		r.mu.Lock()
		skip := r.hostless[game.ID]
		r.mu.Unlock()
		if skip {
			return false
		}
		host := roster.ResolveHost(game)
		if err := r.backfillHost(ctx, game, host); err != nil {
			log.Warnf("failed to backfill hostId: %v", err)
		} else {
			log.WithField("hostId", host).Info("backfilled hostId")
		}
		return true
	}
	return false
}

// SweepReport counts what a sweep changed.
type SweepReport struct {
	Deleted    int
	Reset      int
	Backfilled int
}

func (s SweepReport) String() string {
	return fmt.Sprintf("deleted=%d reset=%d backfilled=%d", s.Deleted, s.Reset, s.Backfilled)
}

// Sweep garbage-collects orphaned games: waiting games with no players are
// deleted, in-progress games with no players go back to waiting, and
// in-progress games lacking hostId get one. It is idempotent. Individual
// failures are logged and skipped; only a failed listing is returned.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	waiting, err := r.gw.ListRecords(ctx, r.games, docstore.Equal("status", models.StatusWaiting))
	if err != nil {
		return report, fmt.Errorf("cleanup: list waiting games: %w", err)
	}
	for _, rec := range waiting {
		game := models.GameFromRecord(rec)
		if len(game.Players) > 0 {
			continue
		}
		if err := r.gw.DeleteRecord(ctx, r.games, game.ID); err != nil {
			r.logger.WithField("gameId", game.ID).Warnf("cleanup: failed to delete orphaned game: %v", err)
			continue
		}
		report.Deleted++
	}

	active, err := r.gw.ListRecords(ctx, r.games, docstore.Equal("status", models.StatusInProgress))
	if err != nil {
		return report, fmt.Errorf("cleanup: list in-progress games: %w", err)
	}
	for _, rec := range active {
		game := models.GameFromRecord(rec)
		log := r.logger.WithField("gameId", game.ID)
		if len(game.Players) == 0 {
			if _, err := r.gw.UpdateRecord(ctx, r.games, game.ID, map[string]interface{}{"status": models.StatusWaiting}); err != nil {
				log.Warnf("cleanup: failed to reset abandoned game: %v", err)
				continue
			}
			report.Reset++
			continue
		}
		if game.HostID == "" {
			if err := r.backfillHost(ctx, game, roster.ResolveHost(game)); err != nil {
				log.Warnf("cleanup: failed to backfill hostId: %v", err)
				continue
			}
			report.Backfilled++
		}
	}

	r.logger.WithField("report", report.String()).Debug("orphan sweep finished")
	return report, nil
}
