package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/crucible-dev/crucible/pkg/events"
)

const historyTimeLayout = "2006-01-02 15:04:05 MST"

// maxSummaryWidth caps a rendered summary line. Executor error
// messages can carry whole command transcripts; the table cuts them,
// the JSON form keeps them whole.
const maxSummaryWidth = 100

// WriteHistory renders an extension's event history, newest first,
// one summarized line per event.
func WriteHistory(w io.Writer, name string, history []*events.Envelope) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No event history found")
		return
	}

	fmt.Fprintf(w, "Event history for '%s'\n", name)
	for _, env := range history {
		summary := Truncate(EventSummary(env.Event), maxSummaryWidth)
		fmt.Fprintf(w, "  [%s] %s\n", env.Timestamp.UTC().Format(historyTimeLayout), summary)
	}
	fmt.Fprintf(w, "\n%d event(s) shown\n", len(history))
}

// historyEntry is the JSON shape of one history line.
type historyEntry struct {
	EventID     string        `json:"event_id"`
	Timestamp   string        `json:"timestamp"`
	Type        events.Type   `json:"type"`
	StateBefore *events.State `json:"state_before,omitempty"`
	StateAfter  events.State  `json:"state_after"`
	Summary     string        `json:"summary"`
}

// WriteHistoryJSON renders an extension's event history as JSON.
func WriteHistoryJSON(w io.Writer, history []*events.Envelope) error {
	entries := make([]historyEntry, 0, len(history))
	for _, env := range history {
		entries = append(entries, historyEntry{
			EventID:     env.EventID,
			Timestamp:   env.Timestamp.UTC().Format(time.RFC3339),
			Type:        env.Event.EventType(),
			StateBefore: env.StateBefore,
			StateAfter:  env.StateAfter,
			Summary:     EventSummary(env.Event),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
