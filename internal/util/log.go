package util

import "fmt"

// DefaultLogMaxLen bounds response bodies echoed into the log (1KB).
const DefaultLogMaxLen = 1024

// TruncateLog shortens long strings for log output.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... (%d bytes total)", len(s))
}

// MaskToken returns a short prefix of a credential for logging.
// Full tokens never appear in the log.
func MaskToken(t string) string {
	if len(t) <= 10 {
		return "***"
	}
	return t[:10] + "..."
}
