package reveal

// Snapshot is the read-only presentation state of a session.
type Snapshot struct {
	DisplayedText string `json:"displayed_text"`
	FullText      string `json:"full_text"`
	Phase         Phase  `json:"phase"`
	CanSkip       bool   `json:"can_skip"`
	Revealed      int    `json:"revealed"`
	Total         int    `json:"total"`
	Truncated     bool   `json:"truncated"`
	Skipped       bool   `json:"skipped"`

	// Streaming is true while the transport may still deliver text.
	Streaming bool `json:"streaming"`
	// Typing is true while buffered text is waiting to be revealed.
	Typing bool `json:"typing"`
	// CursorVisible tells renderers to draw a caret after the text.
	CursorVisible bool `json:"cursor_visible"`
}

// Done reports whether the snapshot is terminal.
func (s Snapshot) Done() bool {
	return s.Phase == PhaseComplete
}

// Progress returns the revealed fraction in [0, 1].
func (s Snapshot) Progress() float64 {
	if s.Total == 0 {
		if s.Done() {
			return 1
		}
		return 0
	}
	return float64(s.Revealed) / float64(s.Total)
}

// sameState reports whether two snapshots would render identically.
func (s Snapshot) sameState(o Snapshot) bool {
	return s.Revealed == o.Revealed &&
		s.Total == o.Total &&
		s.Phase == o.Phase &&
		s.Truncated == o.Truncated &&
		s.Streaming == o.Streaming &&
		len(s.FullText) == len(o.FullText)
}
