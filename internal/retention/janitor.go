// Package retention prunes settled handshake records. Accepted and
// rejected handshakes are kept for a bounded window so the UI can show
// recent history, then removed from the store; pending requests are
// never touched.
package retention

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idvault/idvault/internal/kv"
	"github.com/idvault/idvault/pkg/models"
)

const handshakePrefix = "handshake-"

// Janitor periodically removes terminal handshakes older than maxAge.
type Janitor struct {
	store    kv.Store
	interval time.Duration
	maxAge   time.Duration
}

// NewJanitor creates a janitor sweeping on interval. Intervals under a
// minute are clamped to an hour.
func NewJanitor(s kv.Store, interval, maxAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{store: s, interval: interval, maxAge: maxAge}
}

// Run sweeps until ctx is cancelled. The first sweep happens after one
// interval, not at startup, so a restart loop doesn't hammer the store.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", j.interval).Dur("max_age", j.maxAge).Msg("Handshake janitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Handshake janitor stopped")
			return
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				log.Info().Int("removed", n).Msg("Pruned settled handshakes")
			}
		}
	}
}

// Sweep removes expired terminal handshakes and returns how many it
// dropped. Records that fail to parse are left alone.
func (j *Janitor) Sweep() int {
	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range j.store.GetByPrefix(handshakePrefix) {
		var h models.Handshake
		if err := json.Unmarshal(entry.Value, &h); err != nil {
			continue
		}
		if h.Status.Terminal() && h.CreatedAt.Before(cutoff) {
			j.store.Remove(entry.Key)
			removed++
		}
	}
	return removed
}
