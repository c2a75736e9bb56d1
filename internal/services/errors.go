// Package services implements the instant-win flow engine: the quota ledger,
// the lottery resolver, the session store, and the flow interpreter. This
// file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Taxonomy notes:
//   - Graph integrity problems (graph.IntegrityError, graph.ErrNotFound) are
//     fatal for the affected session and surfaced to the campaign operator.
//   - RateLimited and QuotaExhausted are NOT errors; they are quota outcomes
//     folded into a Lost lottery result (see QuotaOutcome).
//   - ErrUnroutableSelection and ErrSessionTerminated are recoverable; the
//     flow interpreter maps them to re-prompt and no-op outcomes.
package services

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned when an inbound event is missing the
	// campaign, prize, or user identity.
	ErrInvalidEvent = errors.New("invalid inbound event")

	// ErrSessionTerminated indicates an attempt to advance a session that
	// already reached a terminal node. The attempt is a no-op: logged,
	// never an engine failure.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrUnroutableSelection is returned when a selected option value does
	// not match any outgoing edge of the current select node and no fallback
	// edge exists. The flow halts without advancing and the user is
	// re-prompted.
	ErrUnroutableSelection = errors.New("selection does not match any edge")

	// ErrMissingSelection is returned when the current node requires a
	// selected option but the event carries none.
	ErrMissingSelection = errors.New("event carries no selection")

	// ErrDeadEnd indicates a node with no outgoing edges outside an END
	// template. Fatal: the campaign graph must be fixed.
	ErrDeadEnd = errors.New("dead end in conversation graph")

	// ErrAmbiguousTransition indicates more than one unconditional outgoing
	// edge where exactly one is required. Fatal, like ErrDeadEnd.
	ErrAmbiguousTransition = errors.New("ambiguous transition in conversation graph")

	// ErrStoreTimeout wraps store operations that exceeded the configured
	// deadline. Transient: the caller retries the whole event with the same
	// event key, which is safe under the dedupe record.
	ErrStoreTimeout = errors.New("store operation timed out")
)

// mapStoreErr folds context deadline expiry into ErrStoreTimeout so callers
// can branch on the retryable case with errors.Is. Other store errors pass
// through untouched.
func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	return err
}
