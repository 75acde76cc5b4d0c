package supervisor

import (
	"fmt"
	"strings"
)

const (
	// ErrorMarker starts the diagnostic appended to a failed invocation's report.
	ErrorMarker = "ERROR: invocation failed"

	reportPrefix = "SUPERVISOR"
	separator    = "---------------------------------------------------------------------------"
)

// Report renders a Result as the invocation's return value: the log
// coordinates, the captured output, then the diagnostic when a step failed.
func Report(inv Invocation, res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: Log group name: %s\n", reportPrefix, inv.LogGroupName)
	fmt.Fprintf(&b, "%s: Log stream name: %s\n", reportPrefix, inv.LogStreamName)
	b.WriteString(separator + "\n")
	b.WriteString(res.Output)
	if res.Err != nil {
		fmt.Fprintf(&b, "%s:\n %+v\n", ErrorMarker, res.Err)
	}
	return b.String()
}
