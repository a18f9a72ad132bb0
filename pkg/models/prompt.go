package models

import "time"

// PromptSource distinguishes built-in prompt texts from admin overrides.
type PromptSource string

const (
	PromptSourceDefault  PromptSource = "default"
	PromptSourceOverride PromptSource = "override"
)

// Prompt identifiers. The core and router entries are singletons; module
// entries are keyed by Module via ModulePromptID.
const (
	PromptIDCore   = "core"
	PromptIDRouter = "router"
)

// ModulePromptID returns the registry identifier of a module's prompt.
func ModulePromptID(m Module) string {
	return "module:" + string(m)
}

// PromptOverrideData is a stored admin replacement for a built-in prompt.
type PromptOverrideData struct {
	Content   string
	Model     string
	UpdatedAt time.Time
}

// PromptEntry is one named prompt text served by the prompt registry.
type PromptEntry struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Content   string       `json:"content"`
	Model     string       `json:"model,omitempty"`
	Source    PromptSource `json:"source"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}
