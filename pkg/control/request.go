package control

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind identifies a control request variant.
type Kind string

const (
	KindUserInput     Kind = "user_input"
	KindSubAgentQuery Kind = "sub_agent_query"
	KindConfirmation  Kind = "confirmation"
)

// SyncBehavior decides how a request resolves when no suspension-capable
// driver is attached to the context.
type SyncBehavior string

const (
	// SyncRaise propagates ErrConfirmationRequired instead of resolving.
	SyncRaise SyncBehavior = "raise"
	// SyncDefault substitutes the request's default value.
	SyncDefault SyncBehavior = "default"
	// SyncApprove treats a confirmation as approved.
	SyncApprove SyncBehavior = "approve"
	// SyncSkip substitutes nil so the caller proceeds without an answer.
	SyncSkip SyncBehavior = "skip"
)

// Request is a control request a unit of work can yield mid-flight to
// ask for external input. All variants carry a generated unique ID and
// creation timestamp.
type Request interface {
	ID() string
	CreatedAt() time.Time
	Kind() Kind
	SyncBehavior() SyncBehavior

	// resolveSync computes the local answer used in synchronous mode.
	resolveSync() (interface{}, bool, error)
}

type base struct {
	id        string
	createdAt time.Time
	sync      SyncBehavior
}

func newBase(sync SyncBehavior) base {
	return base{
		id:        gonanoid.Must(),
		createdAt: time.Now(),
		sync:      sync,
	}
}

// ID returns the request's unique identifier.
func (b base) ID() string { return b.id }

// CreatedAt returns when the request was created.
func (b base) CreatedAt() time.Time { return b.createdAt }

// SyncBehavior returns the request's synchronous-mode policy.
func (b base) SyncBehavior() SyncBehavior { return b.sync }

// UserInput asks a human (or parent agent) for a free-form answer.
type UserInput struct {
	base
	Prompt       string
	Context      map[string]string
	Options      []string
	Timeout      time.Duration // advisory; enforced by the driver, never here
	DefaultValue interface{}
}

// UserInputParams configures a UserInput request.
type UserInputParams struct {
	Prompt       string
	Context      map[string]string
	Options      []string
	Timeout      time.Duration
	DefaultValue interface{}
	SyncBehavior SyncBehavior // defaults to SyncDefault
}

// NewUserInput creates a user input request.
func NewUserInput(p UserInputParams) *UserInput {
	sync := p.SyncBehavior
	if sync == "" {
		sync = SyncDefault
	}

	return &UserInput{
		base:         newBase(sync),
		Prompt:       p.Prompt,
		Context:      p.Context,
		Options:      p.Options,
		Timeout:      p.Timeout,
		DefaultValue: p.DefaultValue,
	}
}

// Kind returns KindUserInput.
func (r *UserInput) Kind() Kind { return KindUserInput }

func (r *UserInput) resolveSync() (interface{}, bool, error) {
	switch r.sync {
	case SyncRaise:
		return nil, false, ErrConfirmationRequired
	case SyncApprove:
		return true, true, nil
	case SyncSkip:
		return nil, true, nil
	default:
		return r.DefaultValue, true, nil
	}
}

// SubAgentQuery asks a named sub-agent for an answer.
type SubAgentQuery struct {
	base
	AgentName string
	Query     string
	Context   map[string]string
	Options   []string
}

// SubAgentQueryParams configures a SubAgentQuery request.
type SubAgentQueryParams struct {
	AgentName    string
	Query        string
	Context      map[string]string
	Options      []string
	SyncBehavior SyncBehavior // defaults to SyncSkip
}

// NewSubAgentQuery creates a sub-agent query request.
func NewSubAgentQuery(p SubAgentQueryParams) *SubAgentQuery {
	sync := p.SyncBehavior
	if sync == "" {
		sync = SyncSkip
	}

	return &SubAgentQuery{
		base:      newBase(sync),
		AgentName: p.AgentName,
		Query:     p.Query,
		Context:   p.Context,
		Options:   p.Options,
	}
}

// Kind returns KindSubAgentQuery.
func (r *SubAgentQuery) Kind() Kind { return KindSubAgentQuery }

func (r *SubAgentQuery) resolveSync() (interface{}, bool, error) {
	switch r.sync {
	case SyncRaise:
		return nil, false, ErrConfirmationRequired
	case SyncApprove:
		return true, true, nil
	default:
		return nil, true, nil
	}
}

// Confirmation asks for approval before performing an action.
type Confirmation struct {
	base
	Action       string
	Description  string
	Consequences []string
	Reversible   bool
}

// ConfirmationParams configures a Confirmation request.
type ConfirmationParams struct {
	Action       string
	Description  string
	Consequences []string
	Reversible   bool
	// SyncBehavior defaults to SyncApprove when the action is reversible
	// and SyncRaise otherwise: irreversible actions never silently
	// auto-approve.
	SyncBehavior SyncBehavior
}

// NewConfirmation creates a confirmation request.
func NewConfirmation(p ConfirmationParams) *Confirmation {
	sync := p.SyncBehavior
	if sync == "" {
		if p.Reversible {
			sync = SyncApprove
		} else {
			sync = SyncRaise
		}
	}

	return &Confirmation{
		base:         newBase(sync),
		Action:       p.Action,
		Description:  p.Description,
		Consequences: p.Consequences,
		Reversible:   p.Reversible,
	}
}

// Kind returns KindConfirmation.
func (r *Confirmation) Kind() Kind { return KindConfirmation }

func (r *Confirmation) resolveSync() (interface{}, bool, error) {
	switch r.sync {
	case SyncRaise:
		return nil, false, ErrConfirmationRequired
	case SyncApprove:
		return true, true, nil
	default:
		// A skipped or defaulted confirmation resolves to denied.
		return false, false, nil
	}
}
