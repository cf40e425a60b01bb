//go:build linux

package utils

import (
	"github.com/drover-io/drover/pkg/log"
	"golang.org/x/sys/unix"
)

// RaiseFileLimit lifts the soft open file descriptor limit to the
// hard limit. A run holds one store file per replay entry plus the
// node sockets, which overflows the common 1024 default.
func RaiseFileLimit() {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		log.Warn("Failed to read file descriptor limit:", err)
		return
	}

	if limit.Cur >= limit.Max {
		return
	}

	limit.Cur = limit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		log.Warn("Failed to raise file descriptor limit:", err)
	}
}
