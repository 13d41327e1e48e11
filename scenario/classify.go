// ABOUTME: Corruption classifier mapping a scenario result to a label set.
// ABOUTME: Returns every applicable label; conflating failure modes hides the broken guarantee.

package scenario

// Label is one corruption failure mode.
type Label string

const (
	// LabelOpenFailure: the directory could not be reopened, or the open
	// timed out.
	LabelOpenFailure Label = "open-failure"

	// LabelIntegrityFailure: the directory opened but structural checks
	// found damage.
	LabelIntegrityFailure Label = "integrity-failure"

	// LabelDataInconsistency: structures are intact but a cross check
	// (count reconciliation, duplicate detection) failed.
	LabelDataInconsistency Label = "data-inconsistency"

	// LabelWriteFailure: the reopened directory is readable but the
	// post-recovery write probe failed.
	LabelWriteFailure Label = "write-failure"

	// LabelNone: no failure mode applies.
	LabelNone Label = "none"
)

// Classify derives the full set of corruption labels from a result. It is
// a pure function: it inspects the result and mutates nothing.
//
// Multiple labels can apply at once. An open timeout on one report and a
// failed cross check are distinct broken guarantees and are both returned.
func Classify(r *Result) []Label {
	var labels []Label

	if r.OpenTimedOut || r.OpenError != "" {
		labels = append(labels, LabelOpenFailure)
	}
	for _, report := range r.Reports {
		if report != nil && !report.Intact() {
			labels = append(labels, LabelIntegrityFailure)
			break
		}
	}
	if len(r.CrossCheckIssues) > 0 {
		labels = append(labels, LabelDataInconsistency)
	}
	if r.WriteProbeError != "" {
		labels = append(labels, LabelWriteFailure)
	}

	if len(labels) == 0 {
		return []Label{LabelNone}
	}
	return labels
}

// HasLabel reports whether a verdict contains the given label.
func HasLabel(verdict []Label, label Label) bool {
	for _, l := range verdict {
		if l == label {
			return true
		}
	}
	return false
}
