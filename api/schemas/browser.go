package schemas

import "time"

// -- Grounding Schemas --

// ElementRecord is the serializable description of one detected element.
// ID equals the element's data-marker-id value for the snapshot that produced it.
type ElementRecord struct {
	ID                    string            `json:"id"`
	Tag                   string            `json:"tag"`
	Role                  *string           `json:"role"`
	AccessibleName        string            `json:"accessibleName"`
	AccessibleDescription string            `json:"accessibleDescription"`
	Attributes            map[string]string `json:"attributes"`
	Options               []string          `json:"options,omitempty"`
}

// SnapshotResponse is the payload handed back to the agent after a snapshot.
type SnapshotResponse struct {
	ElementsAsJSON []ElementRecord `json:"elementsAsJSON"`
	AddedIDs       []string        `json:"addedIDs"`
}

// -- Browser Interaction Schemas --

// InteractionAction defines the type of action to perform in an interaction step.
type InteractionAction string

const (
	ActionSnapshot InteractionAction = "snapshot"
	ActionClick    InteractionAction = "click"
	ActionFill     InteractionAction = "fill"
	ActionSelect   InteractionAction = "select"
	ActionEnter    InteractionAction = "enter"
	ActionScroll   InteractionAction = "scroll"
	ActionWait     InteractionAction = "wait"
)

// InteractionStep defines a single action to be performed in a sequence.
// ID addresses an element from the most recent snapshot.
type InteractionStep struct {
	Action       InteractionAction `json:"action" yaml:"action"`
	ID           string            `json:"id,omitempty" yaml:"id,omitempty"`
	Value        string            `json:"value,omitempty" yaml:"value,omitempty"`
	Milliseconds int               `json:"milliseconds,omitempty" yaml:"milliseconds,omitempty"`
}

// StepResult records the outcome of one executed InteractionStep.
type StepResult struct {
	Step     InteractionStep   `json:"step"`
	Snapshot *SnapshotResponse `json:"snapshot,omitempty"`
	Changed  bool              `json:"domChanged"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}
