package schema

// Element is one rendered message as the rendering layer sees it.
//
// DisplayID is the identifier shown to the user, normally the message's
// position in the host sequence. Key is the stable message ID. Inserted
// marks elements added by a summarization batch; their DisplayID is already
// final when the batch reconciles identifiers.
type Element struct {
	Key       string `json:"key"`
	DisplayID int    `json:"displayId"`
	Inserted  bool   `json:"inserted,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// RenderLayer exposes rendered elements. It is not required to contain every
// host index: lazy-loaded views may omit some.
type RenderLayer interface {
	Elements() []Element
	// SetState updates hidden/collapsed for the element shown as displayID and
	// reports false when no such element is rendered.
	SetState(displayID int, hidden, collapsed bool) bool
	SetDisplayID(key string, displayID int)
	// InsertElement records an element added by the host at its final
	// position. Existing elements keep their identifiers until reconciled.
	InsertElement(key string, displayID int)
	// RefreshFolds regenerates the fold affordances after a state pass.
	RefreshFolds()
}
