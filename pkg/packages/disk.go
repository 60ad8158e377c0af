//go:build !windows

package packages

import "golang.org/x/sys/unix"

// freeDiskSpace reports the bytes available to an unprivileged caller
// on the filesystem holding dir.
func freeDiskSpace(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
