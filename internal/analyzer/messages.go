package analyzer

// scoreBand identifies which threshold range a similarity score fell into.
type scoreBand int

const (
	bandStrongChange scoreBand = iota
	bandModerateChange
	bandBorderline
	bandInsufficientChange
	bandNoChange
)

// Explanation templates, one per (band, decision) combination. These strings
// are part of the API contract: clients and golden tests match on them.
const (
	msgStrongApproved = "Analysis detected substantial surface changes consistent with a completed repair. Repair verified with high confidence."

	msgModerateApproved = "Analysis detected moderate surface changes indicating repair work. Repair verified with medium confidence."

	msgBorderlineApproved = "Analysis results are borderline, but the detected changes are sufficient to accept the repair. Repair verified with medium confidence."

	msgBorderlineRejected = "Analysis results are borderline and the detected changes do not confirm a completed repair. Please submit a clearer photo of the repaired area."

	msgInsufficientRejected = "Analysis did not detect enough surface change to confirm a repair. Please submit a new photo showing the completed work."

	msgNoChangeRejected = "Analysis detected minimal or no change from the reported issue. Repair could not be verified."
)

func messageFor(band scoreBand, decision Decision) string {
	switch band {
	case bandStrongChange:
		return msgStrongApproved
	case bandModerateChange:
		return msgModerateApproved
	case bandBorderline:
		if decision == DecisionApproved {
			return msgBorderlineApproved
		}
		return msgBorderlineRejected
	case bandInsufficientChange:
		return msgInsufficientRejected
	default:
		return msgNoChangeRejected
	}
}
