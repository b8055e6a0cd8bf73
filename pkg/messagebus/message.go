// Package messagebus dispatches control messages posted into the
// metadata store under the AM's namespace (spec §4.5): it watches the
// per-AM messages node, dispatches each message to the right target, and
// acknowledges the originator by deleting the message node once dispatch
// completes.
package messagebus

// Type distinguishes operator-issued messages from those the system
// generates internally (e.g. credential rotation).
type Type string

const (
	TypeUser   Type = "USER"
	TypeSystem Type = "SYSTEM"
)

// Scope selects the dispatch target.
type Scope string

const (
	ScopeApplication Scope = "APPLICATION"
	ScopeAllRunnable Scope = "ALL_RUNNABLE"
	ScopeRunnable    Scope = "RUNNABLE"
)

// Command is the {name, options} pair a message carries.
type Command struct {
	Name    string            `json:"command"`
	Options map[string]string `json:"options,omitempty"`
}

// Message is the wire shape of one message node (spec §6). The AM's bus
// reads message nodes under /<appRunId>/messages; nodes under
// /<appRunId>/runnables/<runnableName>/messages are not watched.
type Message struct {
	Type         Type    `json:"type"`
	Scope        Scope   `json:"scope"`
	RunnableName string  `json:"runnableName,omitempty"`
	Command      Command `json:"command"`
}

const (
	commandInstances           = "instances"
	commandSecureStoreUpdated  = "secureStoreUpdated"
	optionCount                = "count"
)
