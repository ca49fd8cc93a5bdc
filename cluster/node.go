package cluster

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/guseggert/orchtest/internal/sshcmd"
	"github.com/guseggert/orchtest/process"
	"go.uber.org/zap"
)

// commandRunner is the part of process.Runner the node needs. Tests
// substitute a recording implementation.
type commandRunner interface {
	Run(ctx context.Context, req process.RunRequest) (*process.Result, error)
	Start(ctx context.Context, req process.StartRequest) (*process.Stream, error)
}

// Node is a single cluster member, addressed by IP and reachable as root
// over SSH with the cluster's generated key. A node holds nothing beyond
// its address and credential: it does not own the container it points at,
// any number of nodes can be held and used concurrently, and operations
// against a member whose container is gone simply fail.
type Node struct {
	// IP is the member's IPv4 address on the container network.
	IP net.IP
	// SSHKeyPath is the private key authorized for root on the member.
	SSHKeyPath string

	log        *zap.SugaredLogger
	runner     commandRunner
	transferer FileTransferer
}

type NodeOption func(*Node)

func WithNodeLogger(l *zap.SugaredLogger) NodeOption {
	return func(n *Node) {
		n.log = l.Named("node")
	}
}

// WithFileTransferer selects the strategy CopyTo uses. The default is the
// scp-based SCPTransferer.
func WithFileTransferer(t FileTransferer) NodeOption {
	return func(n *Node) {
		n.transferer = t
	}
}

func NewNode(ip net.IP, sshKeyPath string, opts ...NodeOption) *Node {
	n := &Node{
		IP:         ip,
		SSHKeyPath: sshKeyPath,
	}
	for _, o := range opts {
		o(n)
	}
	if n.log == nil {
		n.log = zap.NewNop().Sugar()
	}
	if n.runner == nil {
		n.runner = &process.Runner{Log: n.log}
	}
	if n.transferer == nil {
		n.transferer = NewSCPTransferer(n.log)
	}
	return n
}

// RunRequest describes a command to run on a node as root.
type RunRequest struct {
	// Args is the remote argument vector.
	Args []string
	// Env is exported in the remote shell before Args runs.
	Env map[string]string
	// LogLive merges remote stderr into stdout and logs each line as it
	// arrives instead of only capturing.
	LogLive bool
}

// StreamRequest describes a command whose combined output is consumed
// incrementally while it runs.
type StreamRequest struct {
	Args []string
	Env  map[string]string
}

// CopyRequest describes a local file to place on a node.
type CopyRequest struct {
	// Source is the local file path. It must exist.
	Source string
	// Dest is the destination path on the node.
	Dest string
	// User owns the transfer session on the node. Empty means root.
	User string
}

// RunAsRoot executes args on the node as root and blocks until the command
// exits, returning the exit code and both captured streams. A nonzero exit
// comes back as a *process.ExitError carrying those same streams.
func (n *Node) RunAsRoot(ctx context.Context, req RunRequest) (*process.Result, error) {
	args := sshcmd.Command(n.IP.String(), n.SSHKeyPath, req.Args, req.Env)
	n.log.Debugw("running command as root", "node", n.IP.String(), "args", req.Args)
	return n.runner.Run(ctx, process.RunRequest{Args: args, LogLive: req.LogLive})
}

// StreamAsRoot starts args on the node as root and returns a handle that
// yields combined output line by line while the command runs. Cancel ctx or
// close the handle so the underlying process cannot outlive its caller.
func (n *Node) StreamAsRoot(ctx context.Context, req StreamRequest) (*process.Stream, error) {
	args := sshcmd.Command(n.IP.String(), n.SSHKeyPath, req.Args, req.Env)
	n.log.Debugw("streaming command as root", "node", n.IP.String(), "args", req.Args)
	return n.runner.Start(ctx, process.StartRequest{Args: args})
}

// CopyTo places the local file at req.Source at req.Dest on the node using
// the node's file transfer strategy.
func (n *Node) CopyTo(ctx context.Context, req CopyRequest) error {
	if req.User == "" {
		req.User = "root"
	}
	if _, err := os.Stat(req.Source); err != nil {
		return fmt.Errorf("source file %q: %w", req.Source, ErrInvalidArgument)
	}
	n.log.Debugw("copying file to node", "node", n.IP.String(), "source", req.Source, "dest", req.Dest)
	err := n.transferer.TransferFile(ctx, TransferRequest{
		Addr:    n.IP.String(),
		KeyPath: n.SSHKeyPath,
		Source:  req.Source,
		Dest:    req.Dest,
		User:    req.User,
	})
	if err != nil {
		return fmt.Errorf("transferring %q to %s: %w", req.Source, n.IP, err)
	}
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node %s", n.IP)
}
