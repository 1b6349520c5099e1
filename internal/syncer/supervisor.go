package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	groupmodels "creddd/internal/group/models"
	"creddd/internal/membership"
)

// GroupLister loads the groups to drive.
type GroupLister interface {
	ListByState(ctx context.Context, state groupmodels.GroupState) ([]*groupmodels.Group, error)
}

// Supervisor starts one engine per active group and waits for all of them.
type Supervisor struct {
	groups     GroupLister
	registry   *membership.Registry
	sources    membership.Resources
	res        Resources
	logger     *slog.Logger
	engineOpts []Option
}

type SupervisorOption func(*Supervisor)

func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithEngineOptions applies opts to every engine the supervisor builds.
func WithEngineOptions(opts ...Option) SupervisorOption {
	return func(s *Supervisor) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

func NewSupervisor(groups GroupLister, registry *membership.Registry, sources membership.Resources, res Resources, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		groups:   groups,
		registry: registry,
		sources:  sources,
		res:      res,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Engines builds an engine for every active group. Groups whose type has no
// registered flavor are skipped with a warning.
func (s *Supervisor) Engines(ctx context.Context) ([]*Engine, error) {
	groups, err := s.groups.ListByState(ctx, groupmodels.GroupStateActive)
	if err != nil {
		return nil, fmt.Errorf("load active groups: %w", err)
	}

	engines := make([]*Engine, 0, len(groups))
	for _, g := range groups {
		source, err := s.registry.New(g, s.sources)
		if err != nil {
			if errors.Is(err, membership.ErrUnknownGroupType) {
				s.logger.WarnContext(ctx, "skipping group with unknown type",
					"group", g.Name,
					"group_type", g.Type,
				)
				continue
			}
			s.logger.ErrorContext(ctx, "failed to build membership source",
				"group", g.Name,
				"error", err,
			)
			continue
		}
		opts := append([]Option{WithLogger(s.logger)}, s.engineOpts...)
		engines = append(engines, New(g, source, s.res, opts...))
	}
	return engines, nil
}

// Run blocks until every engine has exited, which happens on ctx
// cancellation or when a group becomes unrecordable.
func (s *Supervisor) Run(ctx context.Context) error {
	engines, err := s.Engines(ctx)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "starting tree sync engines", "count", len(engines))

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		g.Go(func() error {
			e.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
