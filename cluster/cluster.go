// Package cluster provides the core types for provisioning short-lived
// clusters of the orchestrator stack and operating on their members: the
// backend-agnostic Cluster wrapper with its teardown policy, root command
// execution on individual nodes over SSH, and pluggable file transfer.
package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backend provisions and manages the lifetime of one concrete cluster. A
// backend owns its working state exclusively. Lifecycle calls are issued by
// a single owner sequentially; the role accessors are read-only and safe to
// call concurrently.
type Backend interface {
	// Postflight blocks until every node converges to readiness. It can be
	// called any number of times while the cluster exists.
	Postflight(ctx context.Context) error

	// Destroy tears the cluster down. The backend is not usable afterwards.
	Destroy(ctx context.Context) error

	// Masters returns the master nodes, exactly as many as were requested.
	Masters(ctx context.Context) ([]*Node, error)

	// Agents returns the agent nodes.
	Agents(ctx context.Context) ([]*Node, error)

	// PublicAgents returns the public agent nodes.
	PublicAgents(ctx context.Context) ([]*Node, error)
}

// Cluster wraps a Backend with a teardown policy. A Run callback that
// returns nil always destroys the cluster behind it; a callback error
// destroys the cluster too unless destroy-on-error was disabled, in which
// case the cluster and its nodes stay usable until an explicit Destroy.
type Cluster struct {
	log            *zap.SugaredLogger
	backend        Backend
	destroyOnError bool
}

type Option func(*Cluster)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cluster) {
		c.log = l.Named("cluster")
	}
}

// WithDestroyOnError controls whether Run destroys the cluster when its
// callback returns an error. Enabled unless set otherwise.
func WithDestroyOnError(b bool) Option {
	return func(c *Cluster) {
		c.destroyOnError = b
	}
}

func New(backend Backend, opts ...Option) *Cluster {
	c := &Cluster{
		backend:        backend,
		destroyOnError: true,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	return c
}

func (c *Cluster) Masters(ctx context.Context) ([]*Node, error) {
	return c.backend.Masters(ctx)
}

func (c *Cluster) Agents(ctx context.Context) ([]*Node, error) {
	return c.backend.Agents(ctx)
}

func (c *Cluster) PublicAgents(ctx context.Context) ([]*Node, error) {
	return c.backend.PublicAgents(ctx)
}

// Postflight blocks until every node in the cluster is ready.
func (c *Cluster) Postflight(ctx context.Context) error {
	return c.backend.Postflight(ctx)
}

// Destroy tears down the cluster.
func (c *Cluster) Destroy(ctx context.Context) error {
	return c.backend.Destroy(ctx)
}

// Run invokes fn against the cluster and applies the teardown policy when
// it returns: after a nil error the cluster is always destroyed, after a
// non-nil error it is destroyed only if destroy-on-error is enabled. fn's
// error is returned either way; a destroy failure following a callback
// failure is logged rather than masking the callback's error.
func (c *Cluster) Run(ctx context.Context, fn func(context.Context, *Cluster) error) error {
	err := fn(ctx, c)
	if err != nil && !c.destroyOnError {
		c.log.Debugw("leaving cluster running after error", "error", err)
		return err
	}
	if destroyErr := c.Destroy(ctx); destroyErr != nil {
		if err == nil {
			return fmt.Errorf("destroying cluster: %w", destroyErr)
		}
		c.log.Debugf("destroying cluster after error: %s", destroyErr)
	}
	return err
}
