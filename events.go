package main

// EventType is the lifecycle phase a StageEvent reports.
type EventType string

const (
	EventStageStarted   EventType = "stage-started"
	EventModelCompleted EventType = "model-completed"
	EventModelFailed    EventType = "model-failed"
	EventStageCompleted EventType = "stage-completed"
	EventTurnCompleted  EventType = "turn-completed"
	EventTurnFailed     EventType = "turn-failed"
)

// StageEvent is one entry of the ordered per-turn progress stream.
// Events arrive in stage order, and within an all-concurrent stage the
// per-model events arrive in completion order. Output identities follow
// the stage's anonymization rule; the label map itself is never carried.
type StageEvent struct {
	TurnID    string       `json:"turn_id"`
	Type      EventType    `json:"type"`
	Stage     string       `json:"stage,omitempty"`
	StageKind StageKind    `json:"stage_kind,omitempty"`
	Output    *ModelOutput `json:"output,omitempty"`
	Result    *StageResult `json:"result,omitempty"`
	Turn      *Turn        `json:"turn,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// emitter decouples the orchestration loop from the transport: events go
// onto a channel the caller owns (or nowhere when no channel is given).
type emitter struct {
	turnID string
	ch     chan<- StageEvent
}

func (e *emitter) emit(ev StageEvent) {
	if e == nil || e.ch == nil {
		return
	}
	ev.TurnID = e.turnID
	e.ch <- ev
}

func (e *emitter) stageStarted(stage StageSpec) {
	e.emit(StageEvent{Type: EventStageStarted, Stage: stage.Name, StageKind: stage.Kind})
}

func (e *emitter) modelSettled(stage StageSpec, out ModelOutput) {
	evType := EventModelCompleted
	if out.Failed {
		evType = EventModelFailed
	}
	e.emit(StageEvent{Type: evType, Stage: stage.Name, StageKind: stage.Kind, Output: &out})
}

func (e *emitter) stageCompleted(result *StageResult) {
	e.emit(StageEvent{Type: EventStageCompleted, Stage: result.Name, StageKind: result.Kind, Result: result})
}
