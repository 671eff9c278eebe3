//go:build darwin || freebsd || linux

package diskspace

import "syscall"

// free returns the number of bytes available to an unprivileged user at
// path, or ok=false if the check could not be performed.
func free(path string) (available int64, ok bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
