//go:build linux || darwin

package storage

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func freeBytes(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func fileCreateTime(info os.FileInfo) time.Time {
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		return statCtime(sys)
	}
	return info.ModTime()
}
