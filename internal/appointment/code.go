package appointment

import "fmt"

// FormatCode renders the human-readable appointment code. The sequence is the
// record's database id, so codes are unique and never reassigned.
func FormatCode(year int, seq int64) string {
	return fmt.Sprintf("APT-%d-%06d", year, seq)
}
