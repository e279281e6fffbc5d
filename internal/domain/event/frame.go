package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// ErrMalformedFrame is returned when a stream frame cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one chunk of a downstream agent's streamed response.
type Frame struct {
	Task  FrameTask  `json:"task"`
	Event FrameEvent `json:"event"`

	// Artifact is set when a blocking call answered with a bare result
	// instead of a frame. It is the task artifact verbatim.
	Artifact json.RawMessage `json:"-"`
}

// FrameTask is the downstream task reference carried by every frame.
type FrameTask struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// FrameEvent is the event body of a frame. Type is kept as a raw string
// since downstream agents may emit types outside the vocabulary.
type FrameEvent struct {
	Seq     uint64         `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Final   bool           `json:"final"`
}

// DecodeFrame parses one frame. The event object and its type are required.
func DecodeFrame(data []byte) (Frame, error) {
	var raw struct {
		Task  FrameTask       `json:"task"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(raw.Event) == 0 || string(raw.Event) == "null" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	var fe FrameEvent
	if err := json.Unmarshal(raw.Event, &fe); err != nil {
		return Frame{}, fmt.Errorf("%w: event: %v", ErrMalformedFrame, err)
	}
	if fe.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing event type", ErrMalformedFrame)
	}
	if fe.Payload == nil {
		fe.Payload = map[string]any{}
	}
	return Frame{Task: raw.Task, Event: fe}, nil
}

// ArtifactFrame wraps a bare result value as a final analysis_complete
// frame. An object result becomes the event payload as is; any other JSON
// value is carried under "artifact".
func ArtifactFrame(raw json.RawMessage) (Frame, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Frame{}, fmt.Errorf("%w: result: %v", ErrMalformedFrame, err)
	}
	payload, ok := v.(map[string]any)
	if !ok {
		payload = map[string]any{"artifact": v}
	}
	var artifact bytes.Buffer
	if err := json.Compact(&artifact, raw); err != nil {
		return Frame{}, fmt.Errorf("%w: result: %v", ErrMalformedFrame, err)
	}
	return Frame{
		Task:     FrameTask{State: "completed"},
		Event:    FrameEvent{Seq: 1, Type: string(TypeAnalysisComplete), Payload: payload, Final: true},
		Artifact: artifact.Bytes(),
	}, nil
}

// Failed reports whether a final frame signals a downstream failure.
func (f Frame) Failed() bool {
	return f.Event.Type == string(TypeError) || f.Task.State == "failed"
}

// Translate maps a non-final frame onto the task event vocabulary.
// Recognized non-terminal types pass through; anything else, including
// terminal types that arrive without final=true, is wrapped as
// tool_progress with the original type kept in the payload.
func Translate(f Frame) Event {
	t := Type(f.Event.Type)
	if t.Valid() && !t.Terminal() && t != TypeRouting {
		return New(t, f.Event.Payload)
	}
	payload := maps.Clone(f.Event.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["original_type"] = f.Event.Type
	return New(TypeToolProgress, payload)
}
