package events

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		event Event
	}{
		{
			name: "install started",
			event: &InstallStarted{
				ExtensionName: "python",
				Version:       "3.13.0",
				Source:        "github:crucible-dev/extensions",
				InstallMethod: "mise",
			},
		},
		{
			name: "install completed",
			event: &InstallCompleted{
				ExtensionName:       "python",
				Version:             "3.13.0",
				DurationSecs:        150,
				ComponentsInstalled: []string{"python", "pip"},
			},
		},
		{
			name: "install failed",
			event: &InstallFailed{
				ExtensionName: "kubectl",
				Version:       "1.35.0",
				ErrorMessage:  "Network timeout",
				RetryCount:    2,
				DurationSecs:  120,
			},
		},
		{
			name: "upgrade completed",
			event: &UpgradeCompleted{
				ExtensionName: "nodejs",
				FromVersion:   "20.11.0",
				ToVersion:     "22.0.0",
				DurationSecs:  95,
			},
		},
		{
			name: "remove failed",
			event: &RemoveFailed{
				ExtensionName: "terraform",
				Version:       "1.9.0",
				ErrorMessage:  "permission denied",
				DurationSecs:  3,
			},
		},
		{
			name: "outdated detected",
			event: &OutdatedDetected{
				ExtensionName:  "golang",
				CurrentVersion: "1.24.0",
				LatestVersion:  "1.25.2",
			},
		},
		{
			name: "validation failed",
			event: &ValidationFailed{
				ExtensionName:  "rust",
				Version:        "1.85.0",
				ValidationType: "post-install",
				ErrorMessage:   "cargo not found in PATH",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := MarshalEvent(tc.event)
			if err != nil {
				t.Fatalf("failed to marshal event: %v", err)
			}

			decoded, err := UnmarshalEvent(data)
			if err != nil {
				t.Fatalf("failed to unmarshal event: %v", err)
			}

			if !reflect.DeepEqual(tc.event, decoded) {
				t.Errorf("round trip mismatch:\n got: %#v\nwant: %#v", decoded, tc.event)
			}
		})
	}
}

func TestEventTypeTag(t *testing.T) {
	data, err := MarshalEvent(&InstallStarted{
		ExtensionName: "python",
		Version:       "3.13.0",
		Source:        "github:crucible-dev/extensions",
		InstallMethod: "mise",
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	if !strings.Contains(string(data), `"type":"install_started"`) {
		t.Errorf("encoded event missing type tag: %s", data)
	}
	if !strings.Contains(string(data), `"extension_name":"python"`) {
		t.Errorf("encoded event missing payload field: %s", data)
	}
}

func TestEventLogFileOmittedWhenEmpty(t *testing.T) {
	data, err := MarshalEvent(&InstallCompleted{
		ExtensionName:       "python",
		Version:             "3.13.0",
		DurationSecs:        150,
		ComponentsInstalled: []string{"python"},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	if strings.Contains(string(data), "log_file") {
		t.Errorf("empty log_file should be omitted: %s", data)
	}
}

func TestUnmarshalEventBackwardCompat(t *testing.T) {
	// Older ledger entries have no log_file field at all.
	data := []byte(`{"type":"install_completed","extension_name":"python","version":"3.13.0","duration_secs":150,"components_installed":["python"]}`)

	ev, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	completed, ok := ev.(*InstallCompleted)
	if !ok {
		t.Fatalf("expected *InstallCompleted, got %T", ev)
	}
	if completed.LogFile != "" {
		t.Errorf("expected empty log file, got %q", completed.LogFile)
	}
}

func TestUnmarshalEventUnknownType(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"type":"reboot_started"}`))
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestEnvelopeCreation(t *testing.T) {
	env := NewEnvelope("python", nil, StateInstalling, &InstallStarted{
		ExtensionName: "python",
		Version:       "3.13.0",
		Source:        "github:crucible-dev/extensions",
		InstallMethod: "mise",
	})

	if env.EventID == "" {
		t.Error("expected generated event ID")
	}
	if env.Timestamp.IsZero() {
		t.Error("expected generated timestamp")
	}
	if env.ExtensionName != "python" {
		t.Errorf("unexpected extension name: %s", env.ExtensionName)
	}
	if env.StateBefore != nil {
		t.Error("expected nil state_before for first event")
	}
	if env.StateAfter != StateInstalling {
		t.Errorf("unexpected state_after: %s", env.StateAfter)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope("python", StateInstalling.Ptr(), StateInstalled, &InstallCompleted{
		ExtensionName:       "python",
		Version:             "3.13.0",
		DurationSecs:        150,
		ComponentsInstalled: []string{"python"},
	})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}

	if !strings.Contains(string(data), `"state_after":"installed"`) {
		t.Errorf("encoded envelope missing lowercase state: %s", data)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}

	if decoded.EventID != env.EventID {
		t.Errorf("event ID mismatch: got %s, want %s", decoded.EventID, env.EventID)
	}
	if !decoded.Timestamp.Equal(env.Timestamp) {
		t.Errorf("timestamp mismatch: got %s, want %s", decoded.Timestamp, env.Timestamp)
	}
	if decoded.StateBefore == nil || *decoded.StateBefore != StateInstalling {
		t.Errorf("state_before mismatch: %v", decoded.StateBefore)
	}
	if decoded.StateAfter != StateInstalled {
		t.Errorf("state_after mismatch: %s", decoded.StateAfter)
	}
	if !reflect.DeepEqual(decoded.Event, env.Event) {
		t.Errorf("event payload mismatch:\n got: %#v\nwant: %#v", decoded.Event, env.Event)
	}
}

func TestEnvelopeStateBeforeOmittedWhenNil(t *testing.T) {
	env := NewEnvelope("python", nil, StateInstalling, &InstallStarted{
		ExtensionName: "python",
		Version:       "3.13.0",
		Source:        "github:crucible-dev/extensions",
		InstallMethod: "mise",
	})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	if strings.Contains(string(data), "state_before") {
		t.Errorf("nil state_before should be omitted: %s", data)
	}
}

func TestStateValidate(t *testing.T) {
	for _, s := range []State{StateInstalled, StateFailed, StateOutdated, StateInstalling, StateRemoving} {
		if err := s.Validate(); err != nil {
			t.Errorf("state %s should be valid: %v", s, err)
		}
	}
	if err := State("exploded").Validate(); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestStateClassification(t *testing.T) {
	if !StateInstalling.IsTransitional() || !StateRemoving.IsTransitional() {
		t.Error("installing/removing should be transitional")
	}
	if StateInstalled.IsTransitional() {
		t.Error("installed should not be transitional")
	}
	if !StateInstalled.IsTerminal() || !StateFailed.IsTerminal() || !StateOutdated.IsTerminal() {
		t.Error("installed/failed/outdated should be terminal")
	}
}

func TestEventVersion(t *testing.T) {
	cases := []struct {
		event Event
		want  string
	}{
		{&InstallStarted{Version: "1.0.0"}, "1.0.0"},
		{&UpgradeCompleted{FromVersion: "1.0.0", ToVersion: "2.0.0"}, "2.0.0"},
		{&OutdatedDetected{CurrentVersion: "1.0.0", LatestVersion: "1.1.0"}, "1.1.0"},
		{&RemoveCompleted{Version: "3.0.0"}, "3.0.0"},
	}
	for _, tc := range cases {
		if got := EventVersion(tc.event); got != tc.want {
			t.Errorf("EventVersion(%T) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestEnvelopeTimestampIsUTC(t *testing.T) {
	env := NewEnvelope("python", nil, StateInstalling, &InstallStarted{})
	if env.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %s", env.Timestamp.Location())
	}
}
