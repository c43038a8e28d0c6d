package main

import "time"

// FailureKind classifies why a model call produced no usable text.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport-error"
	FailureRejected  FailureKind = "rejected"
	FailureMalformed FailureKind = "malformed-response"
)

// RoleBinding assigns one model to one role slot for a turn. Bindings are
// kept as an ordered slice rather than a map: insertion order is the
// deterministic tie-break order for ensemble combines and the source of
// step order for sequential mode. A model may hold only one role per turn.
type RoleBinding struct {
	Model string `json:"model" yaml:"model"`
	Role  string `json:"role" yaml:"role"`
}

// TurnParams carries the per-mode tuning knobs for a single turn.
// Zero values mean "use the configured default".
type TurnParams struct {
	IterationCap         int                `json:"iteration_cap,omitempty" yaml:"iteration_cap,omitempty"`
	ConvergenceThreshold *float64           `json:"convergence_threshold,omitempty" yaml:"convergence_threshold,omitempty"`
	Weights              map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// ModelOutput is one model's contribution to a stage, or a failure marker
// when the call produced nothing usable. Outputs are never mutated after
// creation; later stages build new ones.
type ModelOutput struct {
	Model       string      `json:"model"`
	Role        string      `json:"role,omitempty"`
	Content     string      `json:"content,omitempty"`
	Failed      bool        `json:"failed,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// RankEntry is one row of an aggregate peer ranking.
type RankEntry struct {
	Model       string `json:"model"`
	Points      int    `json:"points"`
	FirstPlaces int    `json:"first_places"`
	Rank        int    `json:"rank"`
}

// OptionScore is the composite score of one decision option.
type OptionScore struct {
	Option    string  `json:"option"`
	Composite float64 `json:"composite"`
	Samples   int     `json:"samples"`
	Unscored  bool    `json:"unscored,omitempty"`
}

// DecisionBoard is the aggregate artifact of a decision evaluation stage.
// Scores lists every generated option; Ranked lists only scored options,
// best first.
type DecisionBoard struct {
	Criteria []string      `json:"criteria"`
	Options  []string      `json:"options"`
	Scores   []OptionScore `json:"scores"`
	Ranked   []string      `json:"ranked"`
}

// ConvergenceInfo records the similarity check taken after a sequential step.
type ConvergenceInfo struct {
	Step       int     `json:"step"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Converged  bool    `json:"converged"`
}

// AttributionEntry credits one ensemble member in the combined result.
type AttributionEntry struct {
	Model   string  `json:"model"`
	Weight  float64 `json:"weight"`
	Excerpt string  `json:"excerpt"`
}

// StageResult is the recorded outcome of one topology stage. The aggregate
// fields are stage-kind specific: Ranking for peer review, Board for
// decision evaluation, Convergence for sequential steps, Attribution for
// the ensemble combine.
type StageResult struct {
	Name        string             `json:"name"`
	Kind        StageKind          `json:"kind"`
	Outputs     []ModelOutput      `json:"outputs"`
	Ranking     []RankEntry        `json:"ranking,omitempty"`
	Board       *DecisionBoard     `json:"board,omitempty"`
	Convergence *ConvergenceInfo   `json:"convergence,omitempty"`
	Attribution []AttributionEntry `json:"attribution,omitempty"`
}

// TurnError is the typed error a turn carries when a stage produced
// nothing usable. Completed stages stay on the turn next to it.
type TurnError struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// Turn is one user query plus everything the orchestration run produced
// for it. The role snapshot is immutable once the turn starts; the whole
// turn is immutable once Result or Error is set.
type Turn struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Mode      string        `json:"mode"`
	Roles     []RoleBinding `json:"roles"`
	Params    TurnParams    `json:"params"`
	Stages    []StageResult `json:"stages"`
	Result    *ModelOutput  `json:"result,omitempty"`
	Error     *TurnError    `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Conversation owns an ordered, append-only sequence of turns.
type Conversation struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Title       string    `json:"title"`
	DefaultMode string    `json:"default_mode,omitempty"`
	Turns       []Turn    `json:"turns"`
}

// ConversationMetadata is the list-view projection of a conversation.
type ConversationMetadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
}

// SendMessageRequest submits one query. Mode, roles, and params fall back
// to the conversation's defaults and then the persisted settings.
type SendMessageRequest struct {
	Content string        `json:"content" binding:"required"`
	Mode    string        `json:"mode,omitempty"`
	Roles   []RoleBinding `json:"roles,omitempty"`
	Params  TurnParams    `json:"params,omitempty"`
}
