package cluster

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guseggert/orchtest/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// stubRunner records requests. Run returns a canned result; Start records
// the request and hands back a handle to a harmless local command so the
// caller gets a real stream.
type stubRunner struct {
	runReqs   []process.RunRequest
	startReqs []process.StartRequest

	result *process.Result
	err    error
}

func (s *stubRunner) Run(ctx context.Context, req process.RunRequest) (*process.Result, error) {
	s.runReqs = append(s.runReqs, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &process.Result{}, nil
}

func (s *stubRunner) Start(ctx context.Context, req process.StartRequest) (*process.Stream, error) {
	s.startReqs = append(s.startReqs, req)
	r := &process.Runner{Log: zap.NewNop().Sugar()}
	return r.Start(ctx, process.StartRequest{Args: []string{"echo", "streamed"}})
}

type recordingTransferer struct {
	reqs []TransferRequest
	err  error
}

func (r *recordingTransferer) TransferFile(ctx context.Context, req TransferRequest) error {
	r.reqs = append(r.reqs, req)
	return r.err
}

func newTestNode(t *testing.T, runner commandRunner, opts ...NodeOption) *Node {
	opts = append([]NodeOption{WithNodeLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	n := NewNode(net.ParseIP("172.17.0.2"), "/work/include/ssh/id_rsa", opts...)
	if runner != nil {
		n.runner = runner
	}
	return n
}

func TestRunAsRootComposesSSHInvocation(t *testing.T) {
	stub := &stubRunner{result: &process.Result{Stdout: []byte("root\n")}}
	n := newTestNode(t, stub)

	res, err := n.RunAsRoot(context.Background(), RunRequest{Args: []string{"echo", "$USER"}})
	require.NoError(t, err)
	assert.Equal(t, "root\n", string(res.Stdout))

	require.Len(t, stub.runReqs, 1)
	got := stub.runReqs[0]
	assert.False(t, got.LogLive)
	assert.Equal(t, []string{
		"ssh",
		"-q",
		"-o", "StrictHostKeyChecking=no",
		"-i", "/work/include/ssh/id_rsa",
		"-l", "root",
		"-o", "PreferredAuthentications=publickey",
		"172.17.0.2",
		"echo", "$USER",
	}, got.Args)
}

func TestRunAsRootExportsEnv(t *testing.T) {
	stub := &stubRunner{}
	n := newTestNode(t, stub)

	_, err := n.RunAsRoot(context.Background(), RunRequest{
		Args: []string{"env"},
		Env:  map[string]string{"B": "two words", "A": "1"},
	})
	require.NoError(t, err)

	require.Len(t, stub.runReqs, 1)
	joined := strings.Join(stub.runReqs[0].Args, " ")
	assert.Contains(t, joined, "export A=1 && export B='two words' && env")
}

func TestRunAsRootPropagatesLogLive(t *testing.T) {
	stub := &stubRunner{}
	n := newTestNode(t, stub)

	_, err := n.RunAsRoot(context.Background(), RunRequest{Args: []string{"true"}, LogLive: true})
	require.NoError(t, err)
	require.Len(t, stub.runReqs, 1)
	assert.True(t, stub.runReqs[0].LogLive)
}

func TestStreamAsRootComposesSSHInvocation(t *testing.T) {
	stub := &stubRunner{}
	n := newTestNode(t, stub)

	s, err := n.StreamAsRoot(context.Background(), StreamRequest{Args: []string{"journalctl", "-f"}})
	require.NoError(t, err)
	defer s.Close()

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "streamed", line)

	require.Len(t, stub.startReqs, 1)
	args := stub.startReqs[0].Args
	assert.Equal(t, "ssh", args[0])
	assert.Equal(t, "172.17.0.2", args[len(args)-3])
	assert.Equal(t, []string{"journalctl", "-f"}, args[len(args)-2:])
}

func TestCopyToMissingSource(t *testing.T) {
	tr := &recordingTransferer{}
	n := newTestNode(t, &stubRunner{}, WithFileTransferer(tr))

	err := n.CopyTo(context.Background(), CopyRequest{
		Source: filepath.Join(t.TempDir(), "does-not-exist"),
		Dest:   "/tmp/out",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, tr.reqs)
}

func TestCopyToDefaultsToRoot(t *testing.T) {
	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	tr := &recordingTransferer{}
	n := newTestNode(t, &stubRunner{}, WithFileTransferer(tr))

	require.NoError(t, n.CopyTo(context.Background(), CopyRequest{Source: src, Dest: "/etc/payload"}))

	require.Len(t, tr.reqs, 1)
	got := tr.reqs[0]
	assert.Equal(t, "root", got.User)
	assert.Equal(t, "172.17.0.2", got.Addr)
	assert.Equal(t, "/work/include/ssh/id_rsa", got.KeyPath)
	assert.Equal(t, src, got.Source)
	assert.Equal(t, "/etc/payload", got.Dest)
}

func TestCopyToExplicitUser(t *testing.T) {
	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	tr := &recordingTransferer{}
	n := newTestNode(t, &stubRunner{}, WithFileTransferer(tr))

	require.NoError(t, n.CopyTo(context.Background(), CopyRequest{Source: src, Dest: "/home/core/payload", User: "core"}))
	require.Len(t, tr.reqs, 1)
	assert.Equal(t, "core", tr.reqs[0].User)
}

func TestStreamAsRootEndsWithExitStatus(t *testing.T) {
	stub := &stubRunner{}
	n := newTestNode(t, stub)

	s, err := n.StreamAsRoot(context.Background(), StreamRequest{Args: []string{"true"}})
	require.NoError(t, err)
	defer s.Close()

	for {
		_, err := s.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	code, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
