// Package net has small networking helpers for tests.
package net

import (
	"fmt"
	"net"
)

// UnusedTCPPort reserves an ephemeral TCP port on localhost and releases it
// immediately, returning the port number. Nothing stops the OS from handing
// the port out again, so use it only where a port nobody listens on is the
// point.
func UnusedTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("resolving localhost:0: %w", err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("reserving port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
