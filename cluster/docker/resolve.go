package docker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/docker/docker/client"
	"github.com/guseggert/orchtest/cluster"
)

// resolve looks up the containers for one role and wraps them as nodes.
// Container names are the role's prefix followed by a 1-based index, so the
// returned slice is ordered by index.
func (b *Backend) resolve(ctx context.Context, prefix string, count int) ([]*cluster.Node, error) {
	nodes := make([]*cluster.Node, 0, count)
	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		ip, err := b.waitForContainerIP(ctx, name)
		if err != nil {
			return nil, err
		}
		opts := []cluster.NodeOption{cluster.WithNodeLogger(b.log)}
		if b.transferer != nil {
			opts = append(opts, cluster.WithFileTransferer(b.transferer))
		}
		nodes = append(nodes, cluster.NewNode(ip, b.sshKeyPath, opts...))
	}
	return nodes, nil
}

// waitForContainerIP inspects the named container until it reports an IP
// address, backing off between attempts. Containers appear one by one while
// the build tooling boots, so short waits are normal. A container still
// missing after the final attempt means the cluster does not match the node
// counts it was created with.
func (b *Backend) waitForContainerIP(ctx context.Context, name string) (net.IP, error) {
	delay := b.resolveBaseDelay
	var lastErr error
	for attempt := 1; attempt <= b.resolveAttempts; attempt++ {
		ctr, err := b.client.ContainerInspect(ctx, name)
		switch {
		case client.IsErrNotFound(err):
			lastErr = err
		case err != nil:
			return nil, fmt.Errorf("inspecting container %q: %s: %w", name, err, cluster.ErrUnreachableHost)
		default:
			if ip := net.ParseIP(ctr.NetworkSettings.IPAddress); ip != nil {
				return ip, nil
			}
			lastErr = fmt.Errorf("container %q has no IP address yet", name)
		}
		if attempt == b.resolveAttempts {
			break
		}
		b.log.Debugw("waiting for container", "container", name, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > resolveMaxDelay {
			delay = resolveMaxDelay
		}
	}
	return nil, fmt.Errorf("container %q never appeared: %s: %w", name, lastErr, cluster.ErrInconsistentState)
}
