package model

// ViolationKind classifies a prohibited user action. It carries no payload
// beyond its kind: violations are counted, not individually identified.
type ViolationKind string

const (
	// ViolationFocusLoss: the exam window or tab lost focus.
	ViolationFocusLoss ViolationKind = "focus_loss"
	// ViolationClipboard: an attempted copy or paste.
	ViolationClipboard ViolationKind = "clipboard"
	// ViolationShortcut: a blocklisted keyboard shortcut (copy/paste/devtools).
	ViolationShortcut ViolationKind = "shortcut"
)

// Valid reports whether the kind is one of the counted catalogue entries.
// Right-click and text-selection suppression are cosmetic, client-side only,
// and deliberately have no kind here.
func (k ViolationKind) Valid() bool {
	switch k {
	case ViolationFocusLoss, ViolationClipboard, ViolationShortcut:
		return true
	}
	return false
}

// ViolationReceipt is the best-effort remote acknowledgement of a reported
// violation. The engine's local count stays authoritative for escalation.
type ViolationReceipt struct {
	CurrentCount   int64 `json:"current_count"`
	IsDisqualified bool  `json:"is_disqualified"`
}
