// Package lifecycle defines the start/shutdown capability shared by the
// long-running parts of the keeper and a composite that sequences them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Service is anything that can be started and shut down.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Func adapts plain functions to a Service. Nil funcs are no-ops.
type Func struct {
	Name       string
	StartFn    func(ctx context.Context) error
	ShutdownFn func(ctx context.Context) error
}

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Shutdown(ctx context.Context) error {
	if f.ShutdownFn == nil {
		return nil
	}
	return f.ShutdownFn(ctx)
}

func (f Func) String() string {
	return f.Name
}

// Group starts its services in order and shuts them down in reverse.
type Group struct {
	services []Service
	started  int
}

func NewGroup(services ...Service) *Group {
	return &Group{services: services}
}

func (g *Group) Add(s Service) *Group {
	g.services = append(g.services, s)
	return g
}

// Start starts every service. If one fails, the ones already started are
// shut down again and the start error is returned.
func (g *Group) Start(ctx context.Context) error {
	for i, s := range g.services {
		if err := s.Start(ctx); err != nil {
			g.started = i
			startErr := fmt.Errorf("start %s: %w", name(s, i), err)
			if shutdownErr := g.Shutdown(ctx); shutdownErr != nil {
				return errors.Join(startErr, shutdownErr)
			}
			return startErr
		}
	}
	g.started = len(g.services)
	return nil
}

// Shutdown shuts down the started services in reverse order and joins
// their errors.
func (g *Group) Shutdown(ctx context.Context) error {
	var errs []error
	for i := g.started - 1; i >= 0; i-- {
		if err := g.services[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name(g.services[i], i), err))
		}
	}
	g.started = 0
	return errors.Join(errs...)
}

func name(s Service, i int) string {
	if n, ok := s.(fmt.Stringer); ok && n.String() != "" {
		return n.String()
	}
	return fmt.Sprintf("service #%d", i)
}
