// Package syncer keeps each group's committed Merkle tree in step with chain
// state. One Engine runs per group; all engines share a Gate that bounds how
// many cycles run at once.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	groupmodels "creddd/internal/group/models"
	"creddd/internal/membership"
	"creddd/internal/merkle"
	"creddd/internal/platform/config"
	"creddd/internal/platform/events"
	"creddd/internal/tree/models"
	"creddd/pkg/platform/sentinel"
)

const sanitySampleSize = 5

// Outcome describes what a successful SyncToBlock did.
type Outcome string

const (
	OutcomeEmpty          Outcome = "empty"
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeCommitted      Outcome = "committed"
	OutcomeSanityRejected Outcome = "sanity_rejected"
)

// State is the engine lifecycle. StateUnrecordable is terminal.
type State int32

const (
	StateRunning State = iota
	StateUnrecordable
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateUnrecordable:
		return "unrecordable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Engine drives one group's tree through poll, build, compare and commit.
type Engine struct {
	group  *groupmodels.Group
	source membership.Source
	res    Resources
	logger *slog.Logger

	interval     time.Duration
	infraBackoff time.Duration
	headBackoff  time.Duration

	rng   *rand.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	state atomic.Int32
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSyncConfig sets the poll interval and both backoffs.
func WithSyncConfig(cfg config.SyncConfig) Option {
	return func(e *Engine) {
		if cfg.Interval > 0 {
			e.interval = cfg.Interval
		}
		if cfg.InfraBackoff > 0 {
			e.infraBackoff = cfg.InfraBackoff
		}
		if cfg.HeadBackoff > 0 {
			e.headBackoff = cfg.HeadBackoff
		}
	}
}

// WithRand fixes the sampling source. Production uses the unseeded global.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func withSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New builds the engine for group. A group already in the unrecordable state
// yields an engine whose Run returns immediately.
func New(group *groupmodels.Group, source membership.Source, res Resources, opts ...Option) *Engine {
	defaults := config.DefaultSync()
	e := &Engine{
		group:        group,
		source:       source,
		res:          res,
		logger:       slog.Default(),
		interval:     defaults.Interval,
		infraBackoff: defaults.InfraBackoff,
		headBackoff:  defaults.HeadBackoff,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.With("group", group.Name, "group_id", group.ID.Hex())
	if group.State == groupmodels.GroupStateUnrecordable {
		e.state.Store(int32(StateUnrecordable))
	}
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run loops until ctx is cancelled or the group becomes unrecordable.
func (e *Engine) Run(ctx context.Context) {
	if e.State() == StateUnrecordable {
		return
	}
	e.logger.InfoContext(ctx, "tree sync engine started")
	for {
		wait, fatal := e.cycle(ctx)
		if fatal != nil {
			e.markUnrecordable(ctx, fatal)
			return
		}
		if !e.sleep(ctx, wait) {
			e.logger.InfoContext(ctx, "tree sync engine stopped")
			return
		}
	}
}

// cycle runs one permit-guarded iteration and returns the delay before the
// next one. The permit is released before returning.
func (e *Engine) cycle(ctx context.Context) (time.Duration, error) {
	waitStart := time.Now()
	if err := e.res.Gate.Acquire(ctx); err != nil {
		if ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "failed to acquire sync permit", "error", err)
		}
		return e.infraBackoff, nil
	}
	e.res.Metrics.ObserveGateWait(time.Since(waitStart))
	defer e.res.Gate.Release()

	ready, err := e.source.IsReady(ctx)
	if err != nil {
		e.recordError(ctx, err, "failed to check membership source readiness")
		return e.infraBackoff, nil
	}
	if !ready {
		e.logger.InfoContext(ctx, "waiting for membership source")
		e.res.Metrics.RecordError(e.group.Name, string(Classify(ErrNotReady)))
		return e.interval, nil
	}

	block, err := e.res.Heads.BlockNumber(ctx, e.source.Chain())
	if err != nil {
		e.recordError(ctx, err, "failed to read chain head", "chain", e.source.Chain())
		return e.headBackoff, nil
	}

	outcome, err := e.SyncToBlock(ctx, block)
	if err != nil {
		if IsFatal(err) {
			e.logger.ErrorContext(ctx, "membership data is inconsistent", "block", block, "error", err)
			e.res.Metrics.RecordError(e.group.Name, string(KindFatalInvalidState))
			return 0, err
		}
		e.recordError(ctx, err, "failed to sync tree", "block", block)
		return e.interval, nil
	}
	e.res.Metrics.RecordCycle(e.group.Name, string(outcome))
	return e.interval, nil
}

func (e *Engine) recordError(ctx context.Context, err error, msg string, args ...any) {
	kind := Classify(err)
	e.res.Metrics.RecordError(e.group.Name, string(kind))
	e.logger.ErrorContext(ctx, msg, append(args, "kind", kind, "error", err)...)
}

// markUnrecordable flips the engine to its terminal state and persists the
// group transition, retrying the write until it lands or ctx ends.
func (e *Engine) markUnrecordable(ctx context.Context, cause error) {
	e.state.Store(int32(StateUnrecordable))
	e.res.Metrics.IncrementUnrecordable()
	if err := e.group.MarkUnrecordable(e.now()); err != nil {
		e.logger.WarnContext(ctx, "group state transition rejected", "error", err)
	}
	for {
		err := e.res.Groups.UpdateState(ctx, e.group.ID, groupmodels.GroupStateUnrecordable)
		if err == nil {
			e.logger.ErrorContext(ctx, "group marked unrecordable", "cause", cause)
			return
		}
		e.logger.ErrorContext(ctx, "failed to persist unrecordable state", "error", err)
		if !e.sleep(ctx, e.infraBackoff) {
			return
		}
	}
}

// SyncToBlock computes membership at block and reconciles it with the latest
// committed tree. Membership errors are returned unchanged so callers can
// classify them.
func (e *Engine) SyncToBlock(ctx context.Context, block uint64) (Outcome, error) {
	set, err := e.source.Members(ctx, block)
	if err != nil {
		return "", err
	}

	tree, ok := merkle.Build(e.group.ID, e.group.Type, set.Slice())
	if !ok {
		e.logger.InfoContext(ctx, "no members, skipping", "block", block)
		return OutcomeEmpty, nil
	}
	members := tree.Leaves()
	e.res.Metrics.SetTreeMembers(e.group.Name, len(members))

	latest, err := e.res.Trees.Latest(ctx, e.group.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", fmt.Errorf("load latest tree: %w", err)
	}

	if latest != nil && latest.Root == tree.Root() {
		if err := e.res.Trees.AdvanceBlock(ctx, latest.ID, block); err != nil {
			return "", fmt.Errorf("advance tree block: %w", err)
		}
		if err := e.res.Index.Upsert(ctx, e.group.ID, members...); err != nil {
			return "", fmt.Errorf("update address index: %w", err)
		}
		e.logger.InfoContext(ctx, "tree already up to date", "block", block, "root", tree.Root().Hex())
		return OutcomeUnchanged, nil
	}

	sample := e.sample(members)
	passed, err := e.source.SanityCheck(ctx, sample, block)
	if err != nil {
		return "", fmt.Errorf("sanity check: %w", err)
	}
	if !passed {
		e.logger.WarnContext(ctx, "sanity check failed, tree not committed",
			"block", block,
			"root", tree.Root().Hex(),
			"kind", Classify(ErrSanityCheckFailed),
		)
		return OutcomeSanityRejected, nil
	}

	record := models.NewTreeRecord(e.group.ID, tree.Root(), block, e.now())
	if err := e.res.Trees.Save(ctx, record, members); err != nil {
		return "", fmt.Errorf("save tree: %w", err)
	}
	if err := e.res.Index.Upsert(ctx, e.group.ID, members...); err != nil {
		return "", fmt.Errorf("update address index: %w", err)
	}
	e.logger.InfoContext(ctx, "committed new tree",
		"block", block,
		"root", tree.Root().Hex(),
		"members", len(members),
	)
	e.publish(ctx, record, len(members))
	return OutcomeCommitted, nil
}

func (e *Engine) publish(ctx context.Context, record *models.TreeRecord, leafCount int) {
	err := e.res.publisher().PublishTreeCommitted(ctx, events.TreeCommitted{
		GroupID:     record.GroupID.Hex(),
		GroupName:   e.group.Name,
		TreeID:      record.ID.String(),
		MerkleRoot:  record.Root.Hex(),
		BlockNumber: record.BlockNumber,
		LeafCount:   leafCount,
		CommittedAt: record.CreatedAt,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish tree commit", "error", err)
	}
}

// sample picks min(5, n) distinct members uniformly at random.
func (e *Engine) sample(members []common.Address) []common.Address {
	k := min(sanitySampleSize, len(members))
	picked := make(map[int]struct{}, k)
	out := make([]common.Address, 0, k)
	for len(out) < k {
		i := e.intN(len(members))
		if _, dup := picked[i]; dup {
			continue
		}
		picked[i] = struct{}{}
		out = append(out, members[i])
	}
	return out
}

func (e *Engine) intN(n int) int {
	if e.rng != nil {
		return e.rng.IntN(n)
	}
	return rand.IntN(n)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
