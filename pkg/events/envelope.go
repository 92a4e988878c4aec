package events

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// orchestratorVersion is stamped into every envelope. The default is
// overwritten at startup with the ldflags-injected build version.
var orchestratorVersion atomic.Value

func init() {
	orchestratorVersion.Store("dev")
}

// SetOrchestratorVersion sets the version stamped into new envelopes.
func SetOrchestratorVersion(v string) {
	orchestratorVersion.Store(v)
}

// OrchestratorVersion returns the version stamped into new envelopes.
func OrchestratorVersion() string {
	return orchestratorVersion.Load().(string)
}

// Envelope is the immutable, uniquely identified record of one fact
// about one extension at one point in time. It is the only unit ever
// written to the status ledger.
type Envelope struct {
	// EventID is a UUID v4 generated at creation.
	EventID string `json:"event_id"`

	// Timestamp is the creation time, UTC. Monotonic per writer but
	// not globally ordered across processes.
	Timestamp time.Time `json:"timestamp"`

	// ExtensionName names the extension this fact is about.
	ExtensionName string `json:"extension_name"`

	// OrchestratorVersion is the version of the CLI that recorded
	// this fact.
	OrchestratorVersion string `json:"orchestrator_version"`

	// StateBefore is the state the extension was in before this
	// event. Nil for the first-ever event of an extension.
	StateBefore *State `json:"state_before,omitempty"`

	// StateAfter is the state the extension is in after this event.
	StateAfter State `json:"state_after"`

	// Event is the fact payload.
	Event Event `json:"-"`
}

// NewEnvelope constructs an envelope for one lifecycle fact. The
// event ID, timestamp and orchestrator version are stamped here; no
// transition validation is performed.
func NewEnvelope(extensionName string, stateBefore *State, stateAfter State, event Event) *Envelope {
	return &Envelope{
		EventID:             uuid.New().String(),
		Timestamp:           time.Now().UTC(),
		ExtensionName:       extensionName,
		OrchestratorVersion: OrchestratorVersion(),
		StateBefore:         stateBefore,
		StateAfter:          stateAfter,
		Event:               event,
	}
}

// envelopeJSON is the wire shape of an envelope; the event payload is
// kept raw so the tagged union can be encoded/decoded explicitly.
type envelopeJSON struct {
	EventID             string          `json:"event_id"`
	Timestamp           time.Time       `json:"timestamp"`
	ExtensionName       string          `json:"extension_name"`
	OrchestratorVersion string          `json:"orchestrator_version"`
	StateBefore         *State          `json:"state_before,omitempty"`
	StateAfter          State           `json:"state_after"`
	Event               json.RawMessage `json:"event"`
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	payload, err := MarshalEvent(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		EventID:             e.EventID,
		Timestamp:           e.Timestamp,
		ExtensionName:       e.ExtensionName,
		OrchestratorVersion: e.OrchestratorVersion,
		StateBefore:         e.StateBefore,
		StateAfter:          e.StateAfter,
		Event:               payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Event) == 0 {
		return fmt.Errorf("envelope %s has no event payload", wire.EventID)
	}

	event, err := UnmarshalEvent(wire.Event)
	if err != nil {
		return err
	}

	e.EventID = wire.EventID
	e.Timestamp = wire.Timestamp
	e.ExtensionName = wire.ExtensionName
	e.OrchestratorVersion = wire.OrchestratorVersion
	e.StateBefore = wire.StateBefore
	e.StateAfter = wire.StateAfter
	e.Event = event
	return nil
}
