package printer

import "fmt"

// sizeUnits are the suffixes FormatBytes can scale a byte count to, largest
// first.
var sizeUnits = []struct {
	suffix string
	size   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// FormatBytes renders a byte count the way the VM views show guest memory:
// scaled to the largest fitting unit with one decimal, e.g. "512 B",
// "1.5 KB", "256.0 MB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}

	for _, u := range sizeUnits {
		if bytes >= u.size {
			return fmt.Sprintf("%.1f %s", float64(bytes)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d B", bytes)
}
