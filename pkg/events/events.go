package events

import (
	"encoding/json"
	"fmt"
)

// Type identifies one of the closed set of lifecycle fact types.
type Type string

const (
	TypeInstallStarted      Type = "install_started"
	TypeInstallCompleted    Type = "install_completed"
	TypeInstallFailed       Type = "install_failed"
	TypeUpgradeStarted      Type = "upgrade_started"
	TypeUpgradeCompleted    Type = "upgrade_completed"
	TypeUpgradeFailed       Type = "upgrade_failed"
	TypeRemoveStarted       Type = "remove_started"
	TypeRemoveCompleted     Type = "remove_completed"
	TypeRemoveFailed        Type = "remove_failed"
	TypeOutdatedDetected    Type = "outdated_detected"
	TypeValidationSucceeded Type = "validation_succeeded"
	TypeValidationFailed    Type = "validation_failed"
)

// Validate checks if the event type is one of the known values.
func (t Type) Validate() error {
	if _, ok := eventFactories[t]; !ok {
		return fmt.Errorf("invalid event type: %s", t)
	}
	return nil
}

// Event is one member of the closed union of lifecycle facts. Each
// concrete event carries only the data relevant to that fact; the
// common metadata lives on the Envelope.
type Event interface {
	// EventType returns the wire tag for this fact.
	EventType() Type
}

// InstallStarted records that an installation began.
type InstallStarted struct {
	ExtensionName string `json:"extension_name"`
	Version       string `json:"version"`
	Source        string `json:"source"`
	InstallMethod string `json:"install_method"`
}

// InstallCompleted records a successful installation.
type InstallCompleted struct {
	ExtensionName       string   `json:"extension_name"`
	Version             string   `json:"version"`
	DurationSecs        uint64   `json:"duration_secs"`
	ComponentsInstalled []string `json:"components_installed"`
	LogFile             string   `json:"log_file,omitempty"`
}

// InstallFailed records a failed installation.
type InstallFailed struct {
	ExtensionName string `json:"extension_name"`
	Version       string `json:"version"`
	ErrorMessage  string `json:"error_message"`
	RetryCount    uint32 `json:"retry_count"`
	DurationSecs  uint64 `json:"duration_secs"`
	LogFile       string `json:"log_file,omitempty"`
}

// UpgradeStarted records that an upgrade began.
type UpgradeStarted struct {
	ExtensionName string `json:"extension_name"`
	FromVersion   string `json:"from_version"`
	ToVersion     string `json:"to_version"`
}

// UpgradeCompleted records a successful upgrade.
type UpgradeCompleted struct {
	ExtensionName string `json:"extension_name"`
	FromVersion   string `json:"from_version"`
	ToVersion     string `json:"to_version"`
	DurationSecs  uint64 `json:"duration_secs"`
	LogFile       string `json:"log_file,omitempty"`
}

// UpgradeFailed records a failed upgrade.
type UpgradeFailed struct {
	ExtensionName string `json:"extension_name"`
	FromVersion   string `json:"from_version"`
	ToVersion     string `json:"to_version"`
	ErrorMessage  string `json:"error_message"`
	DurationSecs  uint64 `json:"duration_secs"`
	LogFile       string `json:"log_file,omitempty"`
}

// RemoveStarted records that a removal began.
type RemoveStarted struct {
	ExtensionName string `json:"extension_name"`
	Version       string `json:"version"`
}

// RemoveCompleted records a successful removal.
type RemoveCompleted struct {
	ExtensionName string `json:"extension_name"`
	Version       string `json:"version"`
	DurationSecs  uint64 `json:"duration_secs"`
	LogFile       string `json:"log_file,omitempty"`
}

// RemoveFailed records a failed removal.
type RemoveFailed struct {
	ExtensionName string `json:"extension_name"`
	Version       string `json:"version"`
	ErrorMessage  string `json:"error_message"`
	DurationSecs  uint64 `json:"duration_secs"`
	LogFile       string `json:"log_file,omitempty"`
}

// OutdatedDetected records that a newer version was observed.
type OutdatedDetected struct {
	ExtensionName  string `json:"extension_name"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
}

// ValidationSucceeded records a passing verification check.
type ValidationSucceeded struct {
	ExtensionName  string `json:"extension_name"`
	Version        string `json:"version"`
	ValidationType string `json:"validation_type"`
}

// ValidationFailed records a failing verification check.
type ValidationFailed struct {
	ExtensionName  string `json:"extension_name"`
	Version        string `json:"version"`
	ValidationType string `json:"validation_type"`
	ErrorMessage   string `json:"error_message"`
}

func (InstallStarted) EventType() Type      { return TypeInstallStarted }
func (InstallCompleted) EventType() Type    { return TypeInstallCompleted }
func (InstallFailed) EventType() Type       { return TypeInstallFailed }
func (UpgradeStarted) EventType() Type      { return TypeUpgradeStarted }
func (UpgradeCompleted) EventType() Type    { return TypeUpgradeCompleted }
func (UpgradeFailed) EventType() Type       { return TypeUpgradeFailed }
func (RemoveStarted) EventType() Type       { return TypeRemoveStarted }
func (RemoveCompleted) EventType() Type     { return TypeRemoveCompleted }
func (RemoveFailed) EventType() Type        { return TypeRemoveFailed }
func (OutdatedDetected) EventType() Type    { return TypeOutdatedDetected }
func (ValidationSucceeded) EventType() Type { return TypeValidationSucceeded }
func (ValidationFailed) EventType() Type    { return TypeValidationFailed }

// eventFactories maps wire tags to allocators for decoding. The map
// doubles as the registry of known event types.
var eventFactories = map[Type]func() Event{
	TypeInstallStarted:      func() Event { return &InstallStarted{} },
	TypeInstallCompleted:    func() Event { return &InstallCompleted{} },
	TypeInstallFailed:       func() Event { return &InstallFailed{} },
	TypeUpgradeStarted:      func() Event { return &UpgradeStarted{} },
	TypeUpgradeCompleted:    func() Event { return &UpgradeCompleted{} },
	TypeUpgradeFailed:       func() Event { return &UpgradeFailed{} },
	TypeRemoveStarted:       func() Event { return &RemoveStarted{} },
	TypeRemoveCompleted:     func() Event { return &RemoveCompleted{} },
	TypeRemoveFailed:        func() Event { return &RemoveFailed{} },
	TypeOutdatedDetected:    func() Event { return &OutdatedDetected{} },
	TypeValidationSucceeded: func() Event { return &ValidationSucceeded{} },
	TypeValidationFailed:    func() Event { return &ValidationFailed{} },
}

// MarshalEvent encodes an event as a self-describing JSON object with
// a "type" tag alongside the event's own fields.
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("cannot marshal nil event")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to re-read event payload: %w", err)
	}

	tag, err := json.Marshal(ev.EventType())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event type tag: %w", err)
	}
	fields["type"] = tag

	return json.Marshal(fields)
}

// UnmarshalEvent decodes a self-describing JSON object produced by
// MarshalEvent back into its concrete event type.
func UnmarshalEvent(data []byte) (Event, error) {
	var tag struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to read event type tag: %w", err)
	}

	factory, ok := eventFactories[tag.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %q", tag.Type)
	}

	ev := factory()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", tag.Type, err)
	}
	return ev, nil
}

// EventVersion extracts the most relevant version string from an
// event, for status display. Upgrade events report the target
// version; outdated detection reports the latest known version.
func EventVersion(ev Event) string {
	switch e := ev.(type) {
	case *InstallStarted:
		return e.Version
	case *InstallCompleted:
		return e.Version
	case *InstallFailed:
		return e.Version
	case *UpgradeStarted:
		return e.ToVersion
	case *UpgradeCompleted:
		return e.ToVersion
	case *UpgradeFailed:
		return e.ToVersion
	case *RemoveStarted:
		return e.Version
	case *RemoveCompleted:
		return e.Version
	case *RemoveFailed:
		return e.Version
	case *OutdatedDetected:
		return e.LatestVersion
	case *ValidationSucceeded:
		return e.Version
	case *ValidationFailed:
		return e.Version
	default:
		return ""
	}
}
