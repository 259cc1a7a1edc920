// Package actionlog is the local replica of a server's append-only log.
//
// Append verifies and journals a signed action; a single projector
// goroutine replays journaled actions, in sequence order, into the
// materialized invite view. The view is never written any other way.
package actionlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/logging"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

// ErrClosed is returned by operations on a closed Log.
var ErrClosed = errors.New("actionlog: closed")

const (
	replayPageSize = 200
	retryDelay     = 500 * time.Millisecond
)

// Store is the persistence a Log needs: the journal, the projection
// writes and the view it exposes to readers.
type Store interface {
	store.JournalProvider
	store.ProjectionWriter
	store.InviteView
}

// AppendOptions controls how long Append waits.
type AppendOptions struct {
	// Optimistic returns as soon as the action is journaled locally,
	// before it is visible in the view.
	Optimistic bool
}

// Options configures Open.
type Options struct {
	Store  Store
	Keys   crypto.LogKeys
	Logger *slog.Logger
}

// Log is a journaled, projected action log.
type Log struct {
	store  Store
	keys   crypto.LogKeys
	logger *slog.Logger

	wake chan struct{}
	done chan struct{}

	mu       sync.Mutex
	head     uint64        // highest journaled seq
	applied  uint64        // highest projected seq
	advanced chan struct{} // closed and replaced whenever applied moves
	closed   bool

	cancel context.CancelFunc
}

// Open replays any journaled but unprojected actions into the view and
// starts the projector. The returned Log must be closed.
func Open(ctx context.Context, opts Options) (*Log, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("actionlog: missing store")
	}
	if len(opts.Keys.Key) == 0 || len(opts.Keys.EncryptionKey) == 0 {
		return nil, fmt.Errorf("actionlog: missing log keys")
	}
	applied, err := opts.Store.AppliedSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("actionlog: open: %w", err)
	}

	l := &Log{
		store:    opts.Store,
		keys:     opts.Keys,
		logger:   logging.Component(opts.Logger, "actionlog"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		head:     applied,
		applied:  applied,
		advanced: make(chan struct{}),
	}

	replayed, err := l.project(ctx)
	if err != nil {
		return nil, fmt.Errorf("actionlog: replay: %w", err)
	}
	if replayed > 0 {
		l.logger.Info("replayed journal", "actions", replayed, "applied_seq", l.appliedSeq())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(runCtx)
	return l, nil
}

// Key returns the log's join key.
func (l *Log) Key() []byte { return l.keys.Key }

// DiscoveryKey returns the public key peers announce the log under.
func (l *Log) DiscoveryKey() []byte { return l.keys.DiscoveryKey }

// EncryptionKey returns the key that encrypts the log's blocks.
func (l *Log) EncryptionKey() []byte { return l.keys.EncryptionKey }

// View returns the read side of the materialized view.
func (l *Log) View() store.InviteView { return l.store }

// Append verifies and journals action, returning its sequence number.
// Unless opts.Optimistic is set it also waits for the projector to apply it.
func (l *Log) Append(ctx context.Context, action model.SignedAction, opts AppendOptions) (uint64, error) {
	if err := crypto.Verify(action); err != nil {
		return 0, fmt.Errorf("actionlog: append %s: %w", action.Type, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	l.mu.Unlock()

	seq, err := l.store.AppendAction(ctx, action)
	if err != nil {
		return 0, fmt.Errorf("actionlog: append %s: %w", action.Type, err)
	}

	l.mu.Lock()
	if seq > l.head {
		l.head = seq
	}
	l.mu.Unlock()
	l.notify()

	l.logger.Debug("action journaled", "type", action.Type, "seq", seq, "optimistic", opts.Optimistic)
	if opts.Optimistic {
		return seq, nil
	}
	if err := l.waitApplied(ctx, seq); err != nil {
		return seq, err
	}
	return seq, nil
}

// Sync waits until every action journaled so far has been projected.
func (l *Log) Sync(ctx context.Context) error {
	l.mu.Lock()
	head := l.head
	l.mu.Unlock()
	return l.waitApplied(ctx, head)
}

// Close stops the projector. Journaled actions not yet projected are
// replayed on the next Open.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	<-l.done
	return nil
}

func (l *Log) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Log) appliedSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied
}

func (l *Log) waitApplied(ctx context.Context, seq uint64) error {
	for {
		l.mu.Lock()
		if l.applied >= seq {
			l.mu.Unlock()
			return nil
		}
		advanced := l.advanced
		l.mu.Unlock()

		select {
		case <-advanced:
		case <-l.done:
			return ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("actionlog: wait for seq %d: %w", seq, ctx.Err())
		}
	}
}

func (l *Log) setApplied(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq <= l.applied {
		return
	}
	l.applied = seq
	if seq > l.head {
		l.head = seq
	}
	close(l.advanced)
	l.advanced = make(chan struct{})
}

// run is the projector loop.
func (l *Log) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		if _, err := l.project(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("projection failed, retrying", "err", err, "applied_seq", l.appliedSeq())
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
				l.notify()
			}
		}
	}
}

// project applies every journaled action after the current applied seq
// and returns how many it applied.
func (l *Log) project(ctx context.Context) (int, error) {
	count := 0
	lastSeq := l.appliedSeq()
	for {
		actions, err := l.store.ListActions(ctx, lastSeq, replayPageSize)
		if err != nil {
			return count, err
		}
		if len(actions) == 0 {
			return count, nil
		}
		for _, action := range actions {
			if err := apply(ctx, l.store, action); err != nil {
				if !errors.Is(err, errSkip) {
					return count, err
				}
				l.logger.Warn("skipping action", "seq", action.Seq, "type", action.Type, "err", err)
				if err := l.store.MarkApplied(ctx, action.Seq); err != nil {
					return count, err
				}
			}
			lastSeq = action.Seq
			l.setApplied(lastSeq)
			count++
		}
	}
}
