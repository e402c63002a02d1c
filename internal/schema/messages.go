package schema

// PromptMessage is one entry of a prompt sent to an LLM provider.
type PromptMessage struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

func NewSystemMessage(content string) PromptMessage {
	return PromptMessage{Role: "system", Content: content}
}

func NewUserMessage(content string) PromptMessage {
	return PromptMessage{Role: "user", Content: content}
}

// Prompt is the ordered list of messages exchanged with the LLM.
type Prompt struct {
	Messages []PromptMessage
}

// NewPrompt returns a Prompt initialised with the given messages.
// Called with no arguments it returns an empty Prompt ready for use.
func NewPrompt(msgs ...PromptMessage) Prompt {
	if len(msgs) == 0 {
		return Prompt{Messages: make([]PromptMessage, 0)}
	}
	out := make([]PromptMessage, len(msgs))
	copy(out, msgs)
	return Prompt{Messages: out}
}

// AddSystem appends a system message.
func (p *Prompt) AddSystem(content string) {
	p.Messages = append(p.Messages, NewSystemMessage(content))
}

// AddUser appends a user message.
func (p *Prompt) AddUser(content string) {
	p.Messages = append(p.Messages, NewUserMessage(content))
}

// Clone returns a copy of p with an independent backing slice.
func (p *Prompt) Clone() Prompt {
	cloned := make([]PromptMessage, len(p.Messages))
	copy(cloned, p.Messages)
	return Prompt{Messages: cloned}
}
