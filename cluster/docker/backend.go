package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/guseggert/orchtest/cluster"
	"github.com/guseggert/orchtest/process"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	// installerFileName is the name the build tooling expects the installer
	// artifact to have inside the working directory.
	installerFileName = "dcos_generate_config.sh"
	// installerMountRoot is where the build tooling mounts the working
	// directory's genconf directory inside the installer container.
	installerMountRoot = "/genconf"
	// caKeyMountDest is where a custom CA private key lands on masters.
	caKeyMountDest = "/var/lib/dcos/pki/tls/CA/private/custom_ca.key"

	createAttempts   = 30
	createRetryDelay = 10 * time.Second

	resolveAttempts  = 10
	resolveBaseDelay = 250 * time.Millisecond
	resolveMaxDelay  = 8 * time.Second
)

// supportedStorageDrivers are the host storage drivers the node containers
// can nest on directly; any other host driver makes the containers fall back
// to aufs internally.
var supportedStorageDrivers = []string{"overlay", "aufs"}

// commandRunner is the part of process.Runner the backend needs. Tests
// substitute a recording implementation.
type commandRunner interface {
	Run(ctx context.Context, req process.RunRequest) (*process.Result, error)
}

// Backend is one provisioned cluster, running each node as a Docker
// container on the local host. It drives a staged copy of the cluster build
// tooling through its make targets and owns the staged working directory
// exclusively; working directories are never reused across instances.
type Backend struct {
	log    *zap.SugaredLogger
	client Client
	runner commandRunner

	workDir    string
	sshKeyPath string
	logLive    bool

	// vars is computed once at construction and never changes, so every
	// invocation for this cluster, including create retries, is issued with
	// identical parameters.
	vars map[string]string

	masters      int
	agents       int
	publicAgents int

	masterPrefix      string
	agentPrefix       string
	publicAgentPrefix string

	transferer cluster.FileTransferer
	isConflict ConflictFunc

	createAttempts   int
	createRetryDelay time.Duration
	resolveAttempts  int
	resolveBaseDelay time.Duration
}

var _ cluster.Backend = (*Backend)(nil)

// WorkDir returns the cluster's staged working directory.
func (b *Backend) WorkDir() string {
	return b.workDir
}

func (b *Backend) makeArgs(target string) []string {
	args := append([]string{"make"}, lo.Map(sortedKeys(b.vars), func(k string, _ int) string {
		return fmt.Sprintf("%s=%s", k, b.vars[k])
	})...)
	return append(args, target)
}

func (b *Backend) runMake(ctx context.Context, target string) error {
	b.log.Debugw("running build tool", "target", target, "wd", b.workDir)
	_, err := b.runner.Run(ctx, process.RunRequest{
		Args:    b.makeArgs(target),
		WD:      b.workDir,
		LogLive: b.logLive,
	})
	return err
}

// create brings the cluster's containers up. A name collision with leftover
// containers from another cluster is retried with the identical invocation
// after a fixed delay; any other failure is fatal immediately, with the
// build tool's exit error preserved for inspection.
func (b *Backend) create(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= b.createAttempts; attempt++ {
		err := b.runMake(ctx, "all")
		if err == nil {
			return nil
		}
		var exitErr *process.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("creating cluster: %w", err)
		}
		// The collision message lands on stderr normally and on the merged
		// stdout when live logging is on.
		combined := string(exitErr.Stdout) + string(exitErr.Stderr)
		if !b.isConflict(combined) {
			return fmt.Errorf("creating cluster: %w", err)
		}
		lastErr = fmt.Errorf("creating cluster: %s: %w", err, cluster.ErrConflictingResource)
		b.log.Debugw("container name conflict, retrying create", "attempt", attempt, "attempts", b.createAttempts)
		if attempt == b.createAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.createRetryDelay):
		}
	}
	return lastErr
}

// Postflight blocks until every node in the cluster reports ready. It can
// be run any number of times while the cluster exists.
func (b *Backend) Postflight(ctx context.Context) error {
	if err := b.runMake(ctx, "postflight"); err != nil {
		return fmt.Errorf("waiting for node readiness: %w", err)
	}
	return nil
}

// Destroy removes the cluster's containers and then its working directory.
// Directory removal is best effort: with the containers gone the cluster is
// down, so a removal failure is logged and suppressed.
func (b *Backend) Destroy(ctx context.Context) error {
	if err := b.runMake(ctx, "clean"); err != nil {
		return fmt.Errorf("removing cluster containers: %w", err)
	}
	if err := os.RemoveAll(b.workDir); err != nil {
		b.log.Debugf("removing working directory: %s", err)
	}
	return nil
}

func (b *Backend) Masters(ctx context.Context) ([]*cluster.Node, error) {
	return b.resolve(ctx, b.masterPrefix, b.masters)
}

func (b *Backend) Agents(ctx context.Context) ([]*cluster.Node, error) {
	return b.resolve(ctx, b.agentPrefix, b.agents)
}

func (b *Backend) PublicAgents(ctx context.Context) ([]*cluster.Node, error) {
	return b.resolve(ctx, b.publicAgentPrefix, b.publicAgents)
}
