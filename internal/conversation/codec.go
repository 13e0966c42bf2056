package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// Snapshot is what is persisted for a session between turns.
type Snapshot struct {
	State   State
	Strikes int
}

// envelope is the stored JSON shape: {"stage": ..., "strikes": n, "data": {...}}.
type envelope struct {
	Stage   Stage           `json:"stage"`
	Strikes int             `json:"strikes"`
	Data    json.RawMessage `json:"data"`
}

var constructors = map[Stage]func() State{
	StageAwaitIdentifier:       func() State { return &AwaitIdentifier{} },
	StageAwaitOrderSelection:   func() State { return &AwaitOrderSelection{} },
	StageAwaitItemSelection:    func() State { return &AwaitItemSelection{} },
	StageAwaitReason:           func() State { return &AwaitReason{} },
	StageAwaitEvidence:         func() State { return &AwaitEvidence{} },
	StageAwaitResolutionChoice: func() State { return &AwaitResolutionChoice{} },
	StageAwaitSatisfaction:     func() State { return &AwaitSatisfaction{} },
	StageResolved:              func() State { return &Resolved{} },
	StageEscalated:             func() State { return &Escalated{} },
	StageExited:                func() State { return &Exited{} },
}

// Initial is the snapshot of a new session.
func Initial() Snapshot { return Snapshot{State: AwaitIdentifier{}} }

// Encode validates s and serializes it.
func Encode(s Snapshot) (domain.JSON, error) {
	if err := Validate(s.State); err != nil {
		return nil, err
	}
	if s.Strikes < 0 {
		return nil, fmt.Errorf("%w: negative strikes", ErrInvalidState)
	}
	data, err := json.Marshal(s.State)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(envelope{Stage: s.State.Stage(), Strikes: s.Strikes, Data: data})
	if err != nil {
		return nil, err
	}
	return domain.JSON(b), nil
}

// Decode parses a stored snapshot and validates it. Unknown stages, unknown
// fields and incomplete states are rejected.
func Decode(b []byte) (Snapshot, error) {
	var env envelope
	if err := strictUnmarshal(b, &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	mk, ok := constructors[env.Stage]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: unknown stage %q", ErrInvalidState, env.Stage)
	}
	if env.Strikes < 0 {
		return Snapshot{}, fmt.Errorf("%w: negative strikes", ErrInvalidState)
	}
	ptr := mk()
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := strictUnmarshal(env.Data, ptr); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrInvalidState, env.Stage, err)
		}
	}
	st := deref(ptr)
	if err := Validate(st); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{State: st, Strikes: env.Strikes}, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// deref turns the decoded pointer back into the value type the machine
// switches on.
func deref(s State) State {
	switch v := s.(type) {
	case *AwaitIdentifier:
		return *v
	case *AwaitOrderSelection:
		return *v
	case *AwaitItemSelection:
		return *v
	case *AwaitReason:
		return *v
	case *AwaitEvidence:
		return *v
	case *AwaitResolutionChoice:
		return *v
	case *AwaitSatisfaction:
		return *v
	case *Resolved:
		return *v
	case *Escalated:
		return *v
	case *Exited:
		return *v
	}
	return s
}
