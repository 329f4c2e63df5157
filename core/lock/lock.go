// Package lock implements a cross-process mutual exclusion primitive built on
// atomic directory creation. A lock for target lives at target+".lock/" and
// carries an owner.json record naming the holder and its acquisition time.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/harness/core/errors"
)

const (
	ownerFileName = "owner.json"
	lockSuffix    = ".lock"
)

var (
	ErrAcquireTimeout = errors.New("lock acquisition retries exhausted")
	ErrNotHeld        = errors.New("lock no longer held by this owner")
	ErrReclaimRaced   = errors.New("stale lock was taken over before it could be reclaimed")
)

// Options bounds how hard Acquire tries. Zero values fall back to DefaultOptions.
type Options struct {
	RetryLimit         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	StaleAfter         time.Duration
	MaxReclaimAttempts int
	Logger             *zap.Logger
	Now                func() time.Time
}

func DefaultOptions() Options {
	return Options{
		RetryLimit:         40,
		InitialBackoff:     25 * time.Millisecond,
		MaxBackoff:         time.Second,
		StaleAfter:         30 * time.Second,
		MaxReclaimAttempts: 3,
	}
}

// Owner is the record written inside a held lock directory.
type Owner struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type Lock struct {
	dir      string
	owner    Owner
	logger   *zap.Logger
	released bool
}

// PathFor returns the lock directory guarding target.
func PathFor(target string) string {
	return filepath.Clean(target) + lockSuffix
}

// Acquire blocks until the lock for target is held, the retry ceiling is hit,
// or ctx is done. Locks older than StaleAfter are force-reclaimed at most
// MaxReclaimAttempts times per call.
func Acquire(ctx context.Context, target string, opts Options) (*Lock, error) {
	opts = opts.withDefaults()
	dir := PathFor(target)
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("create lock parent: %w", err), coreerrors.CategoryIOFailure, "lock_io", "check state directory permissions", false)
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = opts.InitialBackoff
	schedule.MaxInterval = opts.MaxBackoff
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0.2
	schedule.Reset()

	hostname, _ := os.Hostname()
	owner := Owner{Token: uuid.NewString(), PID: os.Getpid(), Host: hostname}
	retries := 0
	reclaims := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		err := os.Mkdir(dir, 0o750)
		if err == nil {
			owner.AcquiredAt = opts.Now().UTC()
			if writeErr := writeOwner(dir, owner); writeErr != nil {
				_ = os.RemoveAll(dir)
				return nil, coreerrors.Wrap(writeErr, coreerrors.CategoryIOFailure, "lock_io", "check state directory permissions", false)
			}
			opts.Logger.Debug("lock acquired", zap.String("lock", dir), zap.Int("retries", retries), zap.Int("reclaims", reclaims))
			return &Lock{dir: dir, owner: owner, logger: opts.Logger}, nil
		}
		if !os.IsExist(err) {
			return nil, coreerrors.Wrap(fmt.Errorf("acquire lock: %w", err), coreerrors.CategoryIOFailure, "lock_io", "check state directory permissions", false)
		}

		if age, staleToken, stale := staleness(dir, opts.Now().UTC(), opts.StaleAfter); stale && reclaims < opts.MaxReclaimAttempts {
			reclaims++
			opts.Logger.Warn("reclaiming stale lock",
				zap.String("lock", dir),
				zap.Duration("age", age),
				zap.Int("attempt", reclaims),
			)
			if reclaimErr := reclaim(dir, staleToken, opts.Logger); reclaimErr != nil {
				opts.Logger.Debug("stale lock reclaim lost race", zap.String("lock", dir), zap.Error(reclaimErr))
			}
			continue
		}

		retries++
		if retries > opts.RetryLimit {
			return nil, coreerrors.Wrap(
				fmt.Errorf("%w: %s after %d retries", ErrAcquireTimeout, dir, opts.RetryLimit),
				coreerrors.CategoryStateContention,
				"lock_timeout",
				"another harness process holds the session lock; retry, or run harness doctor to inspect it",
				true,
			)
		}
		wait := schedule.NextBackOff()
		if wait == backoff.Stop || wait <= 0 {
			wait = opts.MaxBackoff
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
	}
}

// With runs fn while holding the lock for target.
func With(ctx context.Context, target string, opts Options, fn func() error) (err error) {
	held, err := Acquire(ctx, target, opts)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := held.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return fn()
}

// Release removes the lock directory if this Lock still owns it. A lock that
// was reclaimed by another process is left alone and ErrNotHeld is returned.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	current, err := readOwner(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.released = true
			return fmt.Errorf("%w: %s vanished", ErrNotHeld, l.dir)
		}
		return fmt.Errorf("release lock: %w", err)
	}
	if current.Token != l.owner.Token {
		l.released = true
		return fmt.Errorf("%w: %s now owned by pid %d", ErrNotHeld, l.dir, current.PID)
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.released = true
	l.logger.Debug("lock released", zap.String("lock", l.dir))
	return nil
}

func (l *Lock) Owner() Owner {
	return l.owner
}

func (l *Lock) Path() string {
	return l.dir
}

// Inspect reports the current holder of the lock for target, if any.
func Inspect(target string) (Owner, bool, error) {
	dir := PathFor(target)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Owner{}, false, nil
		}
		return Owner{}, false, fmt.Errorf("inspect lock: %w", err)
	}
	owner, err := readOwner(dir)
	if err != nil {
		return Owner{AcquiredAt: info.ModTime().UTC()}, true, nil
	}
	return owner, true, nil
}

func (opts Options) withDefaults() Options {
	defaults := DefaultOptions()
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = defaults.RetryLimit
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaults.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaults.StaleAfter
	}
	if opts.MaxReclaimAttempts < 0 {
		opts.MaxReclaimAttempts = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

// staleness reports the age of the lock at dir and the owner token it was
// judged by. An ownerless directory is aged by its mtime and has no token.
func staleness(dir string, now time.Time, staleAfter time.Duration) (time.Duration, string, bool) {
	acquiredAt := time.Time{}
	token := ""
	if owner, err := readOwner(dir); err == nil && !owner.AcquiredAt.IsZero() {
		acquiredAt = owner.AcquiredAt
		token = owner.Token
	} else {
		info, statErr := os.Stat(dir)
		if statErr != nil {
			return 0, "", false
		}
		acquiredAt = info.ModTime()
	}
	age := now.Sub(acquiredAt.UTC())
	return age, token, IsStale(age, staleAfter)
}

// IsStale reports whether a lock held for age may be reclaimed. A lock
// exactly staleAfter old is still live.
func IsStale(age, staleAfter time.Duration) bool {
	return age > staleAfter
}

// reclaim renames the stale directory aside first so only one contender wins
// the removal. The renamed directory must still belong to staleToken; a lock
// taken over between the staleness check and the rename is put back.
func reclaim(dir, staleToken string, logger *zap.Logger) error {
	tomb := fmt.Sprintf("%s.stale-%s", dir, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	if err := os.Rename(dir, tomb); err != nil {
		return err
	}
	if owner, err := readOwner(tomb); err == nil && owner.Token != staleToken {
		logger.Warn("lock changed owner during reclaim; restoring it",
			zap.String("lock", dir),
			zap.String("stale_token", staleToken),
			zap.String("current_token", owner.Token),
		)
		if restoreErr := os.Rename(tomb, dir); restoreErr != nil {
			logger.Error("could not restore lock taken over during reclaim", zap.String("lock", dir), zap.Error(restoreErr))
			_ = os.RemoveAll(tomb)
			return restoreErr
		}
		return ErrReclaimRaced
	}
	return os.RemoveAll(tomb)
}

func writeOwner(dir string, owner Owner) error {
	payload, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("encode lock owner: %w", err)
	}
	// #nosec G304 -- owner file lives inside the freshly created lock directory.
	if err := os.WriteFile(filepath.Join(dir, ownerFileName), append(payload, '\n'), 0o600); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	return nil
}

func readOwner(dir string) (Owner, error) {
	// #nosec G304 -- owner file lives inside a lock directory derived from the state path.
	payload, err := os.ReadFile(filepath.Join(dir, ownerFileName))
	if err != nil {
		return Owner{}, err
	}
	var owner Owner
	if err := json.Unmarshal(payload, &owner); err != nil {
		return Owner{}, fmt.Errorf("decode lock owner: %w", err)
	}
	return owner, nil
}

func sleep(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
