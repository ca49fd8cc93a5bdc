package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/guseggert/orchtest/internal/sshcmd"
	"github.com/guseggert/orchtest/process"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// TransferRequest carries everything a transfer strategy needs to place one
// local file on a cluster member.
type TransferRequest struct {
	Addr    string
	KeyPath string
	Source  string
	Dest    string
	User    string
}

// FileTransferer places files on cluster members. Every implementation
// produces the same observable result on the member; they differ only in
// transport.
type FileTransferer interface {
	TransferFile(ctx context.Context, req TransferRequest) error
}

// SCPTransferer copies files by shelling out to scp, logging each line of
// transfer output as it arrives. It is the default strategy.
type SCPTransferer struct {
	log    *zap.SugaredLogger
	runner commandRunner
}

func NewSCPTransferer(log *zap.SugaredLogger) *SCPTransferer {
	log = log.Named("scp_transferer")
	return &SCPTransferer{log: log, runner: &process.Runner{Log: log}}
}

func (t *SCPTransferer) TransferFile(ctx context.Context, req TransferRequest) error {
	args := sshcmd.Copy(req.Addr, req.KeyPath, req.User, req.Source, req.Dest)
	_, err := t.runner.Run(ctx, process.RunRequest{Args: args, LogLive: true})
	return err
}

// SFTPTransferer copies files over an SFTP session on a direct SSH
// connection, with no external processes involved. Errors identify which
// stage failed: reading the key, dialing, authenticating, or writing the
// remote file.
type SFTPTransferer struct {
	log *zap.SugaredLogger

	dialTimeout time.Duration
	port        string
}

func NewSFTPTransferer(log *zap.SugaredLogger) *SFTPTransferer {
	return &SFTPTransferer{
		log:         log.Named("sftp_transferer"),
		dialTimeout: 30 * time.Second,
		port:        "22",
	}
}

func (t *SFTPTransferer) TransferFile(ctx context.Context, req TransferRequest) error {
	keyBytes, err := os.ReadFile(req.KeyPath)
	if err != nil {
		return fmt.Errorf("reading SSH key %q: %s: %w", req.KeyPath, err, ErrInvalidArgument)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return fmt.Errorf("parsing SSH key %q: %s: %w", req.KeyPath, err, ErrInvalidArgument)
	}

	t.log.Debugw("dialing member", "addr", req.Addr, "user", req.User)
	conn, err := ssh.Dial("tcp", net.JoinHostPort(req.Addr, t.port), &ssh.ClientConfig{
		User:            req.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.dialTimeout,
	})
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return fmt.Errorf("dialing %s: %s: %w", req.Addr, err, ErrUnreachableHost)
		}
		return fmt.Errorf("authenticating to %s as %q: %s: %w", req.Addr, req.User, err, ErrAuthenticationFailure)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("opening SFTP session: %w", err)
	}
	defer client.Close()

	src, err := os.Open(req.Source)
	if err != nil {
		return fmt.Errorf("opening source file %q: %s: %w", req.Source, err, ErrInvalidArgument)
	}
	defer src.Close()

	dst, err := client.Create(req.Dest)
	if err != nil {
		return fmt.Errorf("creating remote file %q: %w", req.Dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("writing remote file %q: %w", req.Dest, err)
	}
	return dst.Close()
}
