package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated sockets starting at fd 3 (after stdio).
const listenFdsStart = 3

// Listener returns the socket-activation listener handed over by systemd,
// or nil when the process was not socket-activated. Only the first passed
// socket is used; fragsyncd serves a single endpoint.
func Listener() (net.Listener, error) {
	n, err := listenFds()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	file := os.NewFile(uintptr(listenFdsStart), "systemd-socket-0")
	if file == nil {
		return nil, fmt.Errorf("failed to open activation fd %d", listenFdsStart)
	}
	defer func() {
		_ = file.Close()
	}() // the listener dups the fd

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from activation fd: %w", err)
	}

	unsetEnv()
	return listener, nil
}

// listenFds reads and validates the LISTEN_PID/LISTEN_FDS protocol.
// Returns 0 when no activation is present or it targets another process.
func listenFds() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: negative count", fdsStr)
	}
	return n, nil
}

// unsetEnv clears the activation variables so child processes (git) do not
// inherit them.
func unsetEnv() {
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")
}
