package utils

// TruncateString shortens s to max characters, appending "..." when cut.
func TruncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
