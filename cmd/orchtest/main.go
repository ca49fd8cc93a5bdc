package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/guseggert/orchtest/cluster"
	"github.com/guseggert/orchtest/cluster/docker"
	"github.com/guseggert/orchtest/process"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	app := &cli.App{
		Name:      "orchtest",
		Usage:     "boot a throwaway orchestrator cluster in Docker containers and tear it down",
		ArgsUsage: "[command to run on the first master]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "build-dir",
				Usage:    "Directory holding the cluster build tooling.",
				Required: true,
				EnvVars:  []string{"ORCHTEST_BUILD_DIR"},
			},
			&cli.StringFlag{
				Name:     "installer",
				Usage:    "Path to the installer artifact.",
				Required: true,
				EnvVars:  []string{"ORCHTEST_INSTALLER_PATH"},
			},
			&cli.StringFlag{
				Name:  "work-root",
				Usage: "Directory to stage cluster working directories under.",
			},
			&cli.IntFlag{
				Name:  "masters",
				Usage: "Number of master nodes.",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "agents",
				Usage: "Number of agent nodes.",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "public-agents",
				Usage: "Number of public agent nodes.",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "extra-config",
				Usage: "YAML file with extra cluster configuration.",
			},
			&cli.StringFlag{
				Name:  "custom-ca-key",
				Usage: "CA private key to mount into master nodes.",
			},
			&cli.StringSliceFlag{
				Name:  "copy-to-installer",
				Usage: "host-path=installer-path pair to place under the installer's /genconf mount. Repeatable.",
			},
			&cli.BoolFlag{
				Name:  "log-live",
				Usage: "Log build tool output line by line as it appears.",
			},
			&cli.BoolFlag{
				Name:  "keep",
				Usage: "Leave the cluster running and print how to reach it.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	slog := logger.Sugar()

	cfg := docker.ClusterConfig{
		Masters:      c.Int("masters"),
		Agents:       c.Int("agents"),
		PublicAgents: c.Int("public-agents"),
		CustomCAKey:  c.String("custom-ca-key"),
		LogLive:      c.Bool("log-live"),
	}
	if path := c.String("extra-config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading extra config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg.ExtraConfig); err != nil {
			return fmt.Errorf("parsing extra config: %w", err)
		}
	}
	for _, pair := range c.StringSlice("copy-to-installer") {
		host, dest, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("copy-to-installer %q is not a host-path=installer-path pair", pair)
		}
		if cfg.FilesToCopyToInstaller == nil {
			cfg.FilesToCopyToInstaller = map[string]string{}
		}
		cfg.FilesToCopyToInstaller[host] = dest
	}

	opts := []docker.FactoryOption{docker.WithLogger(slog)}
	if root := c.String("work-root"); root != "" {
		opts = append(opts, docker.WithWorkRoot(root))
	}
	factory, err := docker.NewFactory(c.String("build-dir"), c.String("installer"), opts...)
	if err != nil {
		return err
	}

	slog.Infow("creating cluster", "masters", cfg.Masters, "agents", cfg.Agents, "publicAgents", cfg.PublicAgents)
	backend, err := factory.Create(c.Context, cfg)
	if err != nil {
		return err
	}
	cl := cluster.New(backend, cluster.WithLogger(slog))

	work := func(ctx context.Context, cl *cluster.Cluster) error {
		if err := cl.Postflight(ctx); err != nil {
			return err
		}
		if c.NArg() == 0 {
			return nil
		}
		masters, err := cl.Masters(ctx)
		if err != nil {
			return err
		}
		if len(masters) == 0 {
			return fmt.Errorf("no master to run the command on")
		}
		res, err := masters[0].RunAsRoot(ctx, cluster.RunRequest{Args: c.Args().Slice()})
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) {
			os.Stdout.Write(exitErr.Stdout)
			os.Stderr.Write(exitErr.Stderr)
			return err
		}
		if err != nil {
			return err
		}
		os.Stdout.Write(res.Stdout)
		os.Stderr.Write(res.Stderr)
		return nil
	}

	if c.Bool("keep") {
		masters, err := cl.Masters(c.Context)
		if err != nil {
			return err
		}
		fmt.Printf("working directory: %s\n", backend.WorkDir())
		for i, m := range masters {
			fmt.Printf("master %d: %s\n", i+1, m.IP)
		}
		if len(masters) > 0 {
			fmt.Printf("ssh key: %s\n", masters[0].SSHKeyPath)
		}
		return work(c.Context, cl)
	}
	return cl.Run(c.Context, work)
}
