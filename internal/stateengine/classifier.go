package stateengine

import "github.com/g960059/aistatus/internal/model"

const (
	RulePureDeletion      = "pure_deletion"
	RuleDeletionDominated = "deletion_dominated"
	RuleTrivialEdit       = "trivial_edit"
	RuleLargeBatch        = "large_batch"
	RuleSustainedBurst    = "sustained_burst"
	RuleMultiSegment      = "multi_segment"
	RuleNoSignal          = "no_signal"
)

type Verdict struct {
	AILike bool
	Rule   string
}

// Classify decides whether one edit batch looks machine generated.
// Negative rules are evaluated before positive ones and win on the same input.
func Classify(insert, deleted, segments, windowInsert, windowEvents int) bool {
	return classify(insert, deleted, segments, windowInsert, windowEvents).AILike
}

// ClassifyVerdict is Classify with the deciding rule name attached.
func ClassifyVerdict(insert, deleted, segments, windowInsert, windowEvents int) Verdict {
	return classify(insert, deleted, segments, windowInsert, windowEvents)
}

// ClassifyMeasurement classifies m against a window that already contains m.
func ClassifyMeasurement(m model.EditMeasurement, w *SlidingWindow) Verdict {
	return classify(m.Inserted, m.Deleted, m.Segments, w.InsertTotal(), w.EventCount())
}

func classify(insert, deleted, segments, windowInsert, windowEvents int) Verdict {
	switch {
	case insert == 0 && deleted > 0:
		return Verdict{Rule: RulePureDeletion}
	case deleted > insert*4 && insert < 15:
		return Verdict{Rule: RuleDeletionDominated}
	case insert < 10 && segments == 1:
		return Verdict{Rule: RuleTrivialEdit}
	}
	switch {
	case insert >= 40:
		return Verdict{AILike: true, Rule: RuleLargeBatch}
	case windowInsert >= 50 && windowEvents >= 3:
		return Verdict{AILike: true, Rule: RuleSustainedBurst}
	case segments >= 6 && insert >= 25:
		return Verdict{AILike: true, Rule: RuleMultiSegment}
	}
	return Verdict{Rule: RuleNoSignal}
}
