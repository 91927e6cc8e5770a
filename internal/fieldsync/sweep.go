package fieldsync

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/notify"
)

// DefaultMirrorBatch bounds one sync-pending-fuel sweep.
const DefaultMirrorBatch = 100

var ErrNoBridge = errors.New("spreadsheet bridge not configured")

// MirrorResult counts the outcome of one mirror sweep.
type MirrorResult struct {
	Mirrored int `json:"mirrored"`
	Failed   int `json:"failed"`
}

// MirrorPending retries the spreadsheet write for fuel records that are in the
// remote store but not yet flagged as mirrored, oldest first. The remote rows are
// never re-inserted.
func (e *Engine) MirrorPending(ctx context.Context, limit int64) (MirrorResult, error) {
	if e.bridge == nil {
		return MirrorResult{}, ErrNoBridge
	}
	if limit <= 0 {
		limit = DefaultMirrorBatch
	}

	pending, err := e.store.Fuel.FindPendingSheetSync(ctx, limit)
	if err != nil {
		return MirrorResult{}, fmt.Errorf("failed to load records pending mirror: %w", err)
	}

	var res MirrorResult
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		if e.mirror(ctx, &pending[i]) {
			res.Mirrored++
		} else {
			res.Failed++
		}
	}

	if len(pending) > 0 {
		log.WithFields(log.Fields{"mirrored": res.Mirrored, "failed": res.Failed}).Info("Pending fuel records mirrored")
		e.publish(ctx, notify.Event{
			Kind:   notify.KindMirror,
			Counts: map[string]int{"mirrored": res.Mirrored, "failed": res.Failed},
		})
	}
	return res, nil
}
