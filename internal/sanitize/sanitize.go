// Package sanitize strips terminal control sequences from process output before it is sent to clients.
package sanitize

import "github.com/charmbracelet/x/ansi"

// Text removes ANSI escape sequences (CSI, OSC, DCS, two-byte escapes) from s.
// Printable text, newlines and tabs are kept in their original order.
func Text(s string) string {
	return ansi.Strip(s)
}
