// Package leaselock serializes per-book pipeline stages through a Postgres
// lease table. Extraction and sampling for the same book must not overlap:
// extraction writes the graph the sampler reads, and two concurrent sampling
// runs would race on the output file and its replayed dedup state. A lease is
// held for the duration of the stage and renewed in the background; losing it
// cancels the stage's context.
package leaselock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrBusy means another holder owns a live lease on the key. Callers
	// requeue or retry the job rather than wait in-process.
	ErrBusy = errors.New("lease lock busy")
	// ErrLost means a renew found the lease taken over after its TTL lapsed.
	ErrLost = errors.New("lease lock lost")
)

// defaultTTL covers the gap between renews with room for a slow query. A
// stalled holder frees the key after this long without renewing.
const defaultTTL = 10 * time.Minute

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client acquires leases against the app_locks table.
type Client struct {
	db dbConn
}

// Options tunes a single acquisition. Zero values get stage defaults.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// TokenPrefix tags the holder token with the stage that took the lease,
	// so a stuck row in app_locks names its owner.
	TokenPrefix string
}

// Lease is a held lock. Context is canceled when the lease is lost or
// released; stage work must run under it.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// WithBookLease runs fn while holding the lease for one book. All stages use
// the same "book:<id>" key, so extraction and sampling exclude each other as
// well as their own kind.
func (c *Client) WithBookLease(ctx context.Context, bookID, stage string, fn func(ctx context.Context) error) error {
	return c.withLease(ctx, "book:"+bookID, Options{
		TTL:         defaultTTL,
		TokenPrefix: stage + "-",
	}, fn)
}

func (c *Client) withLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// acquire takes the lease or fails with ErrBusy. There is no in-process
// waiting: a busy book means another worker already has the job.
func (c *Client) acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}

	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	ttlMs := opts.TTL.Milliseconds()
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	var returnedKey string
	err = c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&returnedKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBusy
		}
		return nil, err
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	go l.renewLoop(opts.RenewEvery, ttlMs)

	return l, nil
}

// Release drops the lease row and cancels the lease context. Safe to call
// more than once; only the holder's token can delete the row.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) renewLoop(every time.Duration, ttlMs int64) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttlMs); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var returnedKey string
		err := l.client.db.QueryRow(renewCtx, renewSQL, l.Key, l.Token, ttlMs).Scan(&returnedKey)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		if err := sleep(l.Context, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// An expired lease is taken over by the next acquirer; re-acquiring with the
// holder's own token refreshes it.
const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2;
`
