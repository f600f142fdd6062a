package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/runtime"
	"github.com/wippyai/wasm-space/store"
)

// Executor runs commands and records the mutating ones in a journal so a
// later process can rebuild the same registry.
type Executor struct {
	rt      *runtime.Runtime
	journal store.Journal
	logger  *zap.Logger
}

// NewExecutor creates an executor. A nil journal records nothing.
func NewExecutor(rt *runtime.Runtime, journal store.Journal, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{rt: rt, journal: journal, logger: logger}
}

// Run executes c and journals it when it succeeded and mutated state.
func (e *Executor) Run(ctx context.Context, c Command) (*Result, error) {
	// file contents are journaled, not the path
	if err := c.Load(); err != nil {
		return nil, err
	}
	res, err := Execute(ctx, e.rt, c)
	if err != nil {
		return nil, err
	}
	if e.journal == nil || !c.Mutates() {
		return res, nil
	}

	entry, err := c.Encode()
	if err != nil {
		return nil, err
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		e.logger.Warn("journal append failed",
			zap.String("command", c.String()),
			zap.Error(err))
		return res, err
	}
	return res, nil
}

// Replay re-executes every journaled command in order and returns how many
// were applied. Publishes whose artifact survived in a durable store only
// resync versions. Entries that fail are logged and skipped.
func (e *Executor) Replay(ctx context.Context) (int, error) {
	if e.journal == nil {
		return 0, nil
	}
	entries, err := e.journal.Entries(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, entry := range entries {
		c, err := Decode(entry.Command)
		if err != nil {
			e.logger.Warn("skip journal entry", zap.Int64("seq", entry.Seq), zap.Error(err))
			continue
		}
		if err := e.replay(ctx, c); err != nil {
			e.logger.Warn("replay failed",
				zap.Int64("seq", entry.Seq),
				zap.String("command", c.String()),
				zap.Error(err))
			continue
		}
		applied++
	}
	e.logger.Debug("journal replayed", zap.Int("entries", len(entries)), zap.Int("applied", applied))
	return applied, nil
}

func (e *Executor) replay(ctx context.Context, c Command) error {
	if c.Name == Publish {
		rec, err := e.rt.Sync(ctx, c.Args[0])
		if err != nil {
			return err
		}
		if rec.HasVersion(c.Args[1]) {
			return nil
		}
	}
	_, err := Execute(ctx, e.rt, c)
	return err
}
