//go:build darwin

package storage

import (
	"syscall"
	"time"
)

func statCtime(st *syscall.Stat_t) time.Time {
	return time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec)
}
