// Package docker provisions clusters whose nodes are Docker containers on
// the local host. A Factory stages a working directory from cluster build
// material and an installer artifact, then drives the build tooling's make
// targets to boot, verify, and remove the containers.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/orchtest/cluster"
	"github.com/guseggert/orchtest/internal/files"
	"github.com/guseggert/orchtest/process"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ClusterConfig describes one cluster to create.
type ClusterConfig struct {
	// Masters, Agents, and PublicAgents are per-role node counts. Zero is
	// valid for any role.
	Masters      int
	Agents       int
	PublicAgents int

	// ExtraConfig is merged into the cluster's generated configuration.
	ExtraConfig map[string]interface{}

	// CustomCAKey is the path to a CA private key to mount into master
	// nodes, for clusters whose configuration names a custom CA
	// certificate.
	CustomCAKey string

	// FilesToCopyToInstaller maps host file paths to installer container
	// paths. Destinations must be under the installer's /genconf mount.
	FilesToCopyToInstaller map[string]string

	// FileTransferer overrides how files are pushed to this cluster's
	// nodes. Defaults to scp.
	FileTransferer cluster.FileTransferer

	// LogLive merges each build tool invocation's output streams and logs
	// them line by line as they appear.
	LogLive bool
}

// Factory creates Docker-backed clusters from one build directory and one
// installer artifact. A single factory can create any number of clusters;
// each gets its own working directory and container name prefix.
type Factory struct {
	log    *zap.SugaredLogger
	client Client
	runner commandRunner

	buildDir      string
	installerPath string
	workRoot      string

	createAttempts   int
	createRetryDelay time.Duration
	resolveAttempts  int
	resolveBaseDelay time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger. Defaults to a production zap logger.
func WithLogger(l *zap.SugaredLogger) FactoryOption {
	return func(f *Factory) { f.log = l.Named("docker_backend") }
}

// WithClient sets the Docker API client used to inspect the daemon and the
// node containers. Defaults to a client built from the environment.
func WithClient(c Client) FactoryOption {
	return func(f *Factory) { f.client = c }
}

// WithWorkRoot sets the directory under which cluster working directories
// are staged. Defaults to the system temporary directory.
func WithWorkRoot(dir string) FactoryOption {
	return func(f *Factory) { f.workRoot = dir }
}

// NewFactory validates the build material and returns a factory for it.
// buildDir holds the cluster build tooling, including its makefile;
// installerPath is the installer artifact staged into each cluster's
// working directory.
func NewFactory(buildDir string, installerPath string, opts ...FactoryOption) (*Factory, error) {
	info, err := os.Stat(buildDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("build directory %q: %w", buildDir, cluster.ErrInvalidArgument)
	}
	if _, err := os.Stat(installerPath); err != nil {
		return nil, fmt.Errorf("installer %q: %w", installerPath, cluster.ErrInvalidArgument)
	}
	f := &Factory{
		buildDir:         buildDir,
		installerPath:    installerPath,
		workRoot:         os.TempDir(),
		createAttempts:   createAttempts,
		createRetryDelay: createRetryDelay,
		resolveAttempts:  resolveAttempts,
		resolveBaseDelay: resolveBaseDelay,
	}
	for _, o := range opts {
		o(f)
	}
	if f.log == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		f.log = logger.Sugar().Named("docker_backend")
	}
	if f.client == nil {
		c, err := newEnvClient()
		if err != nil {
			return nil, fmt.Errorf("creating docker client: %w", err)
		}
		f.client = c
	}
	if f.runner == nil {
		f.runner = process.NewRunner(f.log)
	}
	return f, nil
}

// Create stages and boots a new cluster.
func (f *Factory) Create(ctx context.Context, cfg ClusterConfig) (*Backend, error) {
	if cfg.Masters < 0 || cfg.Agents < 0 || cfg.PublicAgents < 0 {
		return nil, fmt.Errorf("node counts must not be negative: %w", cluster.ErrInvalidArgument)
	}
	instFiles, err := installerFiles(cfg.FilesToCopyToInstaller)
	if err != nil {
		return nil, err
	}
	// Build variables must stay fixed once computed, so snapshot the
	// caller's map before staging begins.
	cfg.ExtraConfig = lo.Assign(cfg.ExtraConfig)

	id := uuid.New().String()
	workDir := filepath.Join(f.workRoot, "orchtest-"+id)
	b := &Backend{
		log:               f.log.With("cluster", id),
		client:            f.client,
		runner:            f.runner,
		workDir:           workDir,
		sshKeyPath:        filepath.Join(workDir, "include", "ssh", "id_rsa"),
		logLive:           cfg.LogLive,
		masters:           cfg.Masters,
		agents:            cfg.Agents,
		publicAgents:      cfg.PublicAgents,
		masterPrefix:      fmt.Sprintf("orchtest-master-%s-", id),
		agentPrefix:       fmt.Sprintf("orchtest-agent-%s-", id),
		publicAgentPrefix: fmt.Sprintf("orchtest-public-agent-%s-", id),
		transferer:        cfg.FileTransferer,
		isConflict:        NameConflict,
		createAttempts:    f.createAttempts,
		createRetryDelay:  f.createRetryDelay,
		resolveAttempts:   f.resolveAttempts,
		resolveBaseDelay:  f.resolveBaseDelay,
	}
	b.log.Debugw("staging working directory", "workdir", workDir)
	if err := f.stage(workDir, instFiles); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("staging working directory: %w", err)
	}
	vars, err := f.assembleVars(ctx, cfg, b)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	b.vars = vars
	if err := b.create(ctx); err != nil {
		// A failed boot keeps its working directory for inspection.
		return nil, err
	}
	return b, nil
}

func (f *Factory) stage(workDir string, instFiles []installerFile) error {
	if err := files.CopyDir(f.buildDir, workDir, installerFileName); err != nil {
		return fmt.Errorf("copying build directory: %w", err)
	}
	if err := files.CopyFile(f.installerPath, filepath.Join(workDir, installerFileName)); err != nil {
		return fmt.Errorf("copying installer: %w", err)
	}
	for _, file := range instFiles {
		err := files.CopyFile(file.host, filepath.Join(workDir, file.staged))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("installer file %q: %w", file.host, cluster.ErrInvalidArgument)
		}
		if err != nil {
			return fmt.Errorf("copying installer file %q: %w", file.host, err)
		}
	}
	return nil
}

func (f *Factory) assembleVars(ctx context.Context, cfg ClusterConfig, b *Backend) (map[string]string, error) {
	info, err := f.client.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying docker storage driver: %s: %w", err, cluster.ErrUnreachableHost)
	}
	driver := lo.Ternary(lo.Contains(supportedStorageDrivers, info.Driver), info.Driver, "aufs")
	vars := map[string]string{
		"MASTERS":                      strconv.Itoa(cfg.Masters),
		"AGENTS":                       strconv.Itoa(cfg.Agents),
		"PUBLIC_AGENTS":                strconv.Itoa(cfg.PublicAgents),
		"MASTER_CTR":                   b.masterPrefix,
		"AGENT_CTR":                    b.agentPrefix,
		"PUBLIC_AGENT_CTR":             b.publicAgentPrefix,
		"DOCKER_STORAGEDRIVER":         driver,
		"MESOS_SYSTEMD_ENABLE_SUPPORT": "false",
	}
	if len(cfg.ExtraConfig) > 0 {
		out, err := yaml.Marshal(cfg.ExtraConfig)
		if err != nil {
			return nil, fmt.Errorf("encoding extra config: %s: %w", err, cluster.ErrInvalidArgument)
		}
		vars["EXTRA_GENCONF_CONFIG"] = string(out)
	}
	if cfg.CustomCAKey != "" {
		vars["MASTER_MOUNTS"] = fmt.Sprintf("-v %s:%s", cfg.CustomCAKey, caKeyMountDest)
	}
	return vars, nil
}

// installerFile is one file to place in the installer's mount, expressed as
// a host source path and a staged path relative to the working directory.
type installerFile struct {
	host   string
	staged string
}

func installerFiles(m map[string]string) ([]installerFile, error) {
	out := make([]installerFile, 0, len(m))
	for _, host := range sortedKeys(m) {
		dest := m[host]
		rel, err := filepath.Rel(installerMountRoot, dest)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("installer file destination %q is outside %s: %w", dest, installerMountRoot, cluster.ErrInvalidArgument)
		}
		out = append(out, installerFile{host: host, staged: filepath.Join("genconf", rel)})
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
