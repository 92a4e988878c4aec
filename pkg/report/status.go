package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/ledger"
)

const statusTimeLayout = "2006-01-02 15:04"

// StatusRow is one extension's presentation-ready status.
type StatusRow struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Status         string `json:"status"`
	StatusDatetime string `json:"status_datetime"`
}

// VerifyOutcome adjusts a status label with a live verification result.
type VerifyOutcome int

const (
	// VerifyNotRun leaves the ledger-derived label untouched.
	VerifyNotRun VerifyOutcome = iota

	// VerifyPassed marks the installation as checked and present.
	VerifyPassed

	// VerifyFailed marks the installation as checked and broken.
	VerifyFailed

	// VerifyUnavailable means verification could not run for the
	// extension (no manifest found).
	VerifyUnavailable
)

// StatusRows converts ledger statuses into sorted presentation rows.
// The verify callback, when non-nil, is invoked only for extensions
// whose ledger state is installed; every other state reports the
// ledger's word directly.
func StatusRows(statuses map[string]ledger.Status, verify func(name string) VerifyOutcome) []StatusRow {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]StatusRow, 0, len(names))
	for _, name := range names {
		st := statuses[name]
		label := string(st.CurrentState)

		if verify != nil && st.CurrentState == events.StateInstalled {
			switch verify(name) {
			case VerifyPassed:
				label = "installed (verified)"
			case VerifyFailed:
				label = "failed (verification)"
			case VerifyUnavailable:
				label = "not installed"
			}
		}

		rows = append(rows, StatusRow{
			Name:           name,
			Version:        st.Version,
			Status:         label,
			StatusDatetime: st.LastEventTime.Format(statusTimeLayout),
		})
	}
	return rows
}

// WriteStatusTable renders status rows as an aligned text table.
func WriteStatusTable(w io.Writer, rows []StatusRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tSTATUS DATE/TIME")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Name, row.Version, row.Status, row.StatusDatetime)
	}
	return tw.Flush()
}

// WriteStatusJSON renders status rows as indented JSON.
func WriteStatusJSON(w io.Writer, rows []StatusRow) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
