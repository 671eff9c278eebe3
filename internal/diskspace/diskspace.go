// Package diskspace does a best-effort free-space check before a batch of
// downloads starts. It never blocks a download: when the check can't be
// performed, or space looks short, the caller only gets a warning.
package diskspace

import "fmt"

// Check compares requiredBytes against the free space at path. It returns a
// human-readable warning string (empty if the check passed or couldn't be
// performed) — never an error, since low or unknown disk space is
// advisory, not fatal.
func Check(path string, requiredBytes int64) string {
	if requiredBytes <= 0 {
		return ""
	}

	available, ok := free(path)
	if !ok {
		return ""
	}

	if available < requiredBytes {
		return fmt.Sprintf("low disk space: ~%.1f GB needed, %.1f GB free",
			float64(requiredBytes)/1e9, float64(available)/1e9)
	}
	return ""
}
