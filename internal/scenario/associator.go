package scenario

import (
	"context"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/logger"
)

// Associator carries out association changes decided by the handover
// machine, e.g. by reconfiguring an emulated station. An empty apID means
// disassociate.
type Associator interface {
	Associate(ctx context.Context, stationID, apID string) error
}

// Observer is notified of run progress. Calls come from station tasks
// concurrently.
type Observer interface {
	OnHandover(ev handover.Event)
	OnSample(stationID, metric string, ok bool)
	OnDropped(stationID string, code errors.ErrorCode)
}

// LogAssociator only logs association requests.
type LogAssociator struct {
	Logger logger.Logger
}

func (a LogAssociator) Associate(_ context.Context, stationID, apID string) error {
	if a.Logger == nil {
		return nil
	}
	if apID == "" {
		a.Logger.Debug().Str("station", stationID).Msg("Disassociate requested")
		return nil
	}
	a.Logger.Debug().Str("station", stationID).Str("ap", apID).Msg("Association requested")
	return nil
}

type nopObserver struct{}

func (nopObserver) OnHandover(handover.Event) {}
func (nopObserver) OnSample(string, string, bool) {}
func (nopObserver) OnDropped(string, errors.ErrorCode) {}
