// Package sshcmd composes ssh and scp argument vectors for reaching cluster
// members. Composition is pure: nothing here touches the network or starts a
// process, so the same inputs always produce the same invocation.
package sshcmd

import (
	"fmt"
	"sort"

	"github.com/alessio/shellescape"
)

// Command returns the argument vector that runs args as root on the host at
// addr, authenticating with the private key at keyPath. Each env entry is
// exported in the remote shell before args run; entries are rendered in
// sorted key order and values are quoted so spaces and quotes round-trip.
func Command(addr string, keyPath string, args []string, env map[string]string) []string {
	var remote []string
	for _, k := range sortedKeys(env) {
		remote = append(remote, fmt.Sprintf("export %s=%s", k, shellescape.Quote(env[k])), "&&")
	}
	remote = append(remote, args...)

	invocation := []string{
		"ssh",
		// -q keeps ssh's own warnings out of the captured streams.
		"-q",
		"-o", "StrictHostKeyChecking=no",
		"-i", keyPath,
		"-l", "root",
		"-o", "PreferredAuthentications=publickey",
		addr,
	}
	return append(invocation, remote...)
}

// Copy returns the argument vector that copies the local file at source to
// dest on the host at addr as user. The caller is responsible for checking
// that source exists.
func Copy(addr, keyPath, user, source, dest string) []string {
	return []string{
		"scp",
		"-q",
		"-o", "IdentitiesOnly=yes",
		"-o", "StrictHostKeyChecking=no",
		"-i", keyPath,
		"-o", "PreferredAuthentications=publickey",
		source,
		fmt.Sprintf("%s@%s:%s", user, addr, dest),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
