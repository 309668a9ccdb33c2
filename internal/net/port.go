// Package net has small networking helpers shared by servers and their tests.
package net

import (
	"fmt"
	"net"
)

// EphemeralAddr returns host:port for a TCP port on host that was free at the time of the call.
func EphemeralAddr(host string) (string, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port
	return net.JoinHostPort(host, fmt.Sprint(port)), nil
}
