package decisioning

import (
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

// CostClass decides how a candidate will be paid for. Free statuses on the
// candidate win over the configured policy.
func CostClass(item tracker.CandidateItem, policy CostPolicy) models.Cost {
	switch {
	case item.Vip:
		return models.CostVip
	case item.PersonalFreeleech:
		return models.CostPersonalFreeleech
	case item.Free:
		return models.CostGlobalFreeleech
	}

	switch policy {
	case CostWedge:
		return models.CostUseWedge
	case CostTryWedge:
		return models.CostTryWedge
	default:
		return models.CostRatio
	}
}

func isFreeCandidate(item tracker.CandidateItem) bool {
	return item.Vip || item.PersonalFreeleech || item.Free
}
