package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBackend struct {
	masters      []*Node
	agents       []*Node
	publicAgents []*Node

	postflights int
	destroys    int
	destroyErr  error
}

func (b *fakeBackend) Postflight(ctx context.Context) error {
	b.postflights++
	return nil
}

func (b *fakeBackend) Destroy(ctx context.Context) error {
	b.destroys++
	return b.destroyErr
}

func (b *fakeBackend) Masters(ctx context.Context) ([]*Node, error)      { return b.masters, nil }
func (b *fakeBackend) Agents(ctx context.Context) ([]*Node, error)       { return b.agents, nil }
func (b *fakeBackend) PublicAgents(ctx context.Context) ([]*Node, error) { return b.publicAgents, nil }

func newTestCluster(t *testing.T, b Backend, opts ...Option) *Cluster {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return New(b, opts...)
}

func TestRunDestroysAfterSuccess(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCluster(t, backend)

	err := c.Run(context.Background(), func(ctx context.Context, c *Cluster) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.destroys)
}

func TestRunDestroysAfterError(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCluster(t, backend)

	wantErr := errors.New("callback failed")
	err := c.Run(context.Background(), func(ctx context.Context, c *Cluster) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, backend.destroys)
}

func TestRunKeepsClusterWhenOptedOut(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCluster(t, backend, WithDestroyOnError(false))

	wantErr := errors.New("callback failed")
	err := c.Run(context.Background(), func(ctx context.Context, c *Cluster) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, backend.destroys)

	// the cluster is still usable and can be destroyed explicitly
	require.NoError(t, c.Destroy(context.Background()))
	assert.Equal(t, 1, backend.destroys)
}

func TestRunOptedOutStillDestroysAfterSuccess(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCluster(t, backend, WithDestroyOnError(false))

	err := c.Run(context.Background(), func(ctx context.Context, c *Cluster) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.destroys)
}

func TestRunSurfacesDestroyError(t *testing.T) {
	destroyErr := errors.New("clean failed")
	backend := &fakeBackend{destroyErr: destroyErr}
	c := newTestCluster(t, backend)

	err := c.Run(context.Background(), func(ctx context.Context, c *Cluster) error {
		return nil
	})
	assert.ErrorIs(t, err, destroyErr)
}

func TestRunCallbackErrorWinsOverDestroyError(t *testing.T) {
	backend := &fakeBackend{destroyErr: errors.New("clean failed")}
	c := newTestCluster(t, backend)

	wantErr := errors.New("callback failed")
	err := c.Run(context.Background(), func(ctx context.Context, c *Cluster) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, backend.destroys)
}

func TestPostflightDelegates(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCluster(t, backend)

	require.NoError(t, c.Postflight(context.Background()))
	require.NoError(t, c.Postflight(context.Background()))
	assert.Equal(t, 2, backend.postflights)
}

func TestRoleAccessorsDelegate(t *testing.T) {
	backend := &fakeBackend{
		masters: []*Node{NewNode(nil, "")},
	}
	c := newTestCluster(t, backend)

	masters, err := c.Masters(context.Background())
	require.NoError(t, err)
	assert.Len(t, masters, 1)

	agents, err := c.Agents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agents)
}
