// Package schema contains the contracts shared across memshard packages.
// Concrete implementations live in their respective packages; defining the
// interfaces here keeps session, render, shard and batch free of import cycles.
package schema

import "time"

// Message is one entry of a chat as the host sequence stores it.
//
// ID is stable for the lifetime of the message and is what batch items
// anchor to. Positions are not stable: any insertion or deletion before a
// message moves it.
//
// IsSystem marks the message as hidden from the model's context. The
// visibility projector owns this flag for indices covered by a range.
type Message struct {
	ID        string
	Role      string // "user" | "assistant" | "system"
	Name      string // speaker display name, matched by ignore-name filters
	Content   string
	IsSystem  bool
	Timestamp time.Time
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool { return m.Role == "user" }
