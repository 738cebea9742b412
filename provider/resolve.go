package provider

import (
	"context"
	"log/slog"
	"strconv"
)

// SessionRef is one entry from a backend's session listing.
type SessionRef struct {
	Index int
	ID    string
}

// SessionLister is implemented by backends that can enumerate their
// sessions, most recent first. Used as the low-confidence fallback when a
// backend reveals no identifier in its run output.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]SessionRef, error)
}

// UpdateSession folds a run's observations back into the thread's resume
// state.
//
// A session id observed in the native payload is adopted outright. When
// nothing was observed in this run or any earlier one, and the caller
// supplied no resume value, the lister provides the most recent session:
// its id when the backend already knows one, its ordinal position as a
// provisional token otherwise. Some backends only mint a stable identifier
// after the first completed turn, hence the two tiers.
func UpdateSession(ctx context.Context, t *Thread, observedID string, lister SessionLister) {
	if observedID != "" {
		t.AdoptSession(observedID)
		return
	}
	if t.observed() || lister == nil {
		return
	}

	refs, err := lister.ListSessions(ctx)
	if err != nil {
		slog.Debug("session listing fallback failed", "provider", t.Provider(), "error", err)
		return
	}
	if len(refs) == 0 {
		return
	}
	latest := refs[0]
	if latest.ID != "" {
		t.AdoptSession(latest.ID)
		return
	}
	t.SetProvisionalToken(strconv.Itoa(latest.Index))
}
