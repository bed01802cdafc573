package events

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// NamedPublisher labels a publisher in errors.
type NamedPublisher struct {
	Name      string
	Publisher importer.EventPublisher
}

// Fanout publishes to every target concurrently. Every target is attempted;
// the error joins all failures.
type Fanout struct {
	targets []NamedPublisher
}

var _ importer.EventPublisher = (*Fanout)(nil)

// NewFanout creates a fan-out publisher.
func NewFanout(targets ...NamedPublisher) *Fanout {
	return &Fanout{targets: targets}
}

// Publish implements importer.EventPublisher.
func (f *Fanout) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	errs := make([]error, len(f.targets))

	var g errgroup.Group
	for i, t := range f.targets {
		i, t := i, t
		g.Go(func() error {
			if err := t.Publisher.Publish(ctx, ev); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.Name, err)
				return errs[i]
			}
			return nil
		})
	}
	// Wait reports only the first failure; the others are joined below.
	if err := g.Wait(); err == nil {
		return nil
	}
	return errors.Join(errs...)
}
