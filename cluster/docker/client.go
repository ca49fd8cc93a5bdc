package docker

import (
	"context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// Client is the part of the Docker API the backend consumes: inspecting
// containers by name during node resolution and querying daemon info for the
// storage driver probe. The concrete *client.Client satisfies it; tests
// substitute their own.
type Client interface {
	ContainerInspect(ctx context.Context, nameOrID string) (types.ContainerJSON, error)
	Info(ctx context.Context) (types.Info, error)
}

var _ Client = (*client.Client)(nil)

// newEnvClient builds a client from the standard Docker environment
// variables (DOCKER_HOST etc.), negotiating the API version with the daemon.
func newEnvClient() (Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}
