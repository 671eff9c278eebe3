package catalog

import "strconv"

// ByteSize is a byte count used throughout the store and downloader so
// bytes and kilobytes can never be silently confused at a call site.
type ByteSize int64

// Unknown is the sentinel ByteSize for a size that hasn't been discovered
// yet (e.g. before the first HEAD/probe of a catalog entry).
const Unknown ByteSize = -1

// IsUnknown reports whether the size has not yet been determined.
func (b ByteSize) IsUnknown() bool {
	return b == Unknown
}

const (
	kb = 1 << 10
	mb = 1 << 20
	gb = 1 << 30
)

// String renders a human-readable size, e.g. "4.2 GB".
func (b ByteSize) String() string {
	if b.IsUnknown() {
		return "undefined"
	}
	v := float64(b)
	switch {
	case v >= gb:
		return strconv.FormatFloat(v/gb, 'f', 2, 64) + " GB"
	case v >= mb:
		return strconv.FormatFloat(v/mb, 'f', 2, 64) + " MB"
	case v >= kb:
		return strconv.FormatFloat(v/kb, 'f', 2, 64) + " KB"
	default:
		return strconv.FormatInt(int64(b), 10) + " B"
	}
}
