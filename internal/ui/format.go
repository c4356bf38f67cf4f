package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/stats"
)

// FormatRate formats a bytes-per-second rate as a human-readable string.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	units := []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	val := bytesPerSec
	for _, u := range units {
		if val < 1024 {
			if val < 10 {
				return fmt.Sprintf("%.2f %s", val, u)
			}
			if val < 100 {
				return fmt.Sprintf("%.1f %s", val, u)
			}
			return fmt.Sprintf("%.0f %s", val, u)
		}
		val /= 1024
	}
	return fmt.Sprintf("%.1f PB/s", val)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Summary renders the end-of-session line for a channel.
func Summary(s stats.Snapshot) string {
	line := fmt.Sprintf("%s in / %s out in %s (%s writes",
		stats.FormatBytes(s.BytesRead),
		stats.FormatBytes(s.BytesWritten),
		FormatDuration(s.Elapsed),
		FormatCount(s.WritesCompleted),
	)
	if s.WritesFailed > 0 {
		line += fmt.Sprintf(", %s failed", FormatCount(s.WritesFailed))
	}
	return line + ")"
}

// WriteBuckets prints a classification, one endpoint per line, grouped by
// bucket. Empty buckets are omitted.
func WriteBuckets(w io.Writer, good, conflict, wrong []comm.Endpoint) {
	for _, b := range []struct {
		name  string
		hosts []comm.Endpoint
	}{
		{"good", good},
		{"conflict", conflict},
		{"wrong", wrong},
	} {
		if len(b.hosts) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d):\n", b.name, len(b.hosts))
		for _, h := range b.hosts {
			fmt.Fprintf(w, "  %s\n", h)
		}
	}
}
