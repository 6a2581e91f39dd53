package voyager

import "strings"

// Modifiers holds the three sticky, one-shot modifier flags the voyager's
// on-screen keyboard can set before the next keystroke (spec §4.6).
type Modifiers struct {
	Ctrl bool
	Alt  bool
	Meta bool
}

// Apply rewrites s per spec §4.6's modifier-composition rule and clears
// every flag that was consumed, matching property 9:
//
//	Apply("a")  with Ctrl        -> "\x01"
//	Apply("x")  with Alt         -> "\x1bx"
//	Apply("c")  with Ctrl+Alt    -> "\x1b\x03"
func (m *Modifiers) Apply(s string) string {
	s = strings.ReplaceAll(s, "\n", "\r")

	if m.Ctrl {
		var b strings.Builder
		for _, c := range s {
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			if c >= 'A' && c <= 'Z' {
				b.WriteRune(c - 0x40)
			} else {
				b.WriteRune(c)
			}
		}
		s = b.String()
		m.Ctrl = false
	}

	if m.Alt || m.Meta {
		s = "\x1b" + s
		m.Alt, m.Meta = false, false
	}

	return s
}
