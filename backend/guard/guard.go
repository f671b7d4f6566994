package guard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is matched by every *LockedError.
var ErrLocked = errors.New("too many failed attempts")

type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Policy configures lockout thresholds.
type Policy struct {
	MaxAttempts        int           // failures per (account, source) before the pair locks
	AccountMaxAttempts int           // failures per account, all sources, before the account locks
	Window             time.Duration // how long failures are remembered
	LockDuration       time.Duration
}

// BruteForceGuard counts failed credential checks and locks out
// (account, source) pairs, plus whole accounts hammered from many sources.
type BruteForceGuard struct {
	tracker Tracker
	policy  Policy
}

func NewBruteForceGuard(tracker Tracker, policy Policy) *BruteForceGuard {
	return &BruteForceGuard{tracker: tracker, policy: policy}
}

// Pair and account keys live under separate prefixes, so no account
// identifier can name another account's (account, source) pair.
func pairKey(account, source string) string {
	return "pair:" + account + "|" + source
}

func accountKey(account string) string {
	return "acct:" + account
}

// Check returns a *LockedError when the pair or the account is locked. It
// must run before any credential comparison.
func (g *BruteForceGuard) Check(ctx context.Context, account, source string) error {
	var retry time.Duration
	for _, k := range []string{"lock:" + pairKey(account, source), "lock:" + accountKey(account)} {
		left, err := g.tracker.LockedFor(ctx, k)
		if err != nil {
			return err
		}
		retry = max(retry, left)
	}
	if retry > 0 {
		return &LockedError{RetryAfter: retry}
	}
	return nil
}

func (g *BruteForceGuard) IsLocked(ctx context.Context, account, source string) (bool, error) {
	err := g.Check(ctx, account, source)
	if errors.Is(err, ErrLocked) {
		return true, nil
	}
	return false, err
}

// RecordFailure counts one failure and reports whether it triggered a lock.
// The count survives cancellation of ctx.
func (g *BruteForceGuard) RecordFailure(ctx context.Context, account, source string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	locked := false

	pair := pairKey(account, source)
	n, _, err := g.tracker.Increment(ctx, "fail:"+pair, g.policy.Window)
	if err != nil {
		return false, err
	}
	if n >= int64(g.policy.MaxAttempts) {
		if err := g.tracker.Lock(ctx, "lock:"+pair, g.policy.LockDuration); err != nil {
			return false, err
		}
		if err := g.tracker.Reset(ctx, "fail:"+pair); err != nil {
			return true, err
		}
		locked = true
	}

	acct := accountKey(account)
	n, _, err = g.tracker.Increment(ctx, "fail:"+acct, g.policy.Window)
	if err != nil {
		return locked, err
	}
	if n >= int64(g.policy.AccountMaxAttempts) {
		if err := g.tracker.Lock(ctx, "lock:"+acct, g.policy.LockDuration); err != nil {
			return locked, err
		}
		if err := g.tracker.Reset(ctx, "fail:"+acct); err != nil {
			return true, err
		}
		locked = true
	}
	return locked, nil
}

// RecordSuccess clears the pair's failure streak. The account-wide counter
// is left alone.
func (g *BruteForceGuard) RecordSuccess(ctx context.Context, account, source string) error {
	pair := pairKey(account, source)
	return g.tracker.Reset(context.WithoutCancel(ctx), "fail:"+pair, "lock:"+pair)
}

// Failures returns the pair's current failure count.
func (g *BruteForceGuard) Failures(ctx context.Context, account, source string) (int64, error) {
	return g.tracker.Count(ctx, "fail:"+pairKey(account, source))
}
