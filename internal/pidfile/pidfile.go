// Package pidfile records spawned process ids on disk so a later invocation
// can find and stop processes it did not start itself.
package pidfile

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Write records pid at path.
func Write(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}

// Read returns the pid recorded at path. A missing or unparseable file reads
// as 0.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// Alive reports whether pid names a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Live returns the pid recorded at path if it names a live process. A stale
// record reads the same as no record.
func Live(path string) (int, bool) {
	pid, err := Read(path)
	if err != nil || !Alive(pid) {
		return 0, false
	}
	return pid, true
}

// Kill force-terminates pid.
func Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Remove deletes the pid file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
