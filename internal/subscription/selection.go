package subscription

import (
	"fmt"
	"sort"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
)

// Selection is an incoming grade and subject choice. A nil field means the
// caller did not specify it.
type Selection struct {
	GradeID    *uint64
	SubjectIDs []uint64
}

// SelectionFromTransaction reads the checkout choice recorded on a payment.
func SelectionFromTransaction(txn *models.PaymentTransaction) Selection {
	if txn == nil {
		return Selection{}
	}
	sel := Selection{GradeID: txn.SelectedGradeID}
	if len(txn.SelectedSubjectIDs) > 0 {
		sel.SubjectIDs = append([]uint64(nil), txn.SelectedSubjectIDs...)
	}
	return sel
}

// normalizeSubjects drops zero and duplicate IDs and sorts the rest.
func normalizeSubjects(ids []uint64) []uint64 {
	if ids == nil {
		return nil
	}
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateSelection checks an incoming selection against the tier limits.
func ValidateSelection(tier *models.SubscriptionTier, sel Selection) (Selection, error) {
	sel.SubjectIDs = normalizeSubjects(sel.SubjectIDs)
	if sel.GradeID != nil && *sel.GradeID == 0 {
		sel.GradeID = nil
	}
	if tier == nil {
		return sel, nil
	}
	if tier.CanSelectSubjects && tier.MaxSubjects > 0 && len(sel.SubjectIDs) > tier.MaxSubjects {
		return sel, fmt.Errorf("%w: %d subjects exceeds limit %d for tier %s", ErrInvalidSelection, len(sel.SubjectIDs), tier.MaxSubjects, tier.Name)
	}
	return sel, nil
}

// CheckSelectionAllowed rejects a grade or subject choice supplied for a tier
// that cannot hold it.
func CheckSelectionAllowed(tier *models.SubscriptionTier, sel Selection) error {
	if tier == nil {
		return nil
	}
	if (sel.GradeID != nil && !tier.CanSelectGrade) || (sel.SubjectIDs != nil && !tier.CanSelectSubjects) {
		return fmt.Errorf("%w: %s", ErrSelectionNotAllowed, tier.Name)
	}
	return nil
}

// MergeSelection resolves the stored selection for a new active row. Incoming
// values always win; incoming nils are filled from the previous row. Carried
// values the tier cannot hold are cleared. Request paths reject incoming values
// the tier cannot hold with CheckSelectionAllowed before merging.
func MergeSelection(tier *models.SubscriptionTier, incoming Selection, previous *models.UserSubscription) (*uint64, []uint64) {
	var grade *uint64
	var subjects []uint64

	if tier != nil && tier.CanSelectGrade {
		grade = incoming.GradeID
		if grade == nil && previous != nil && previous.SelectedGradeID != nil {
			carried := *previous.SelectedGradeID
			grade = &carried
		}
	}

	if tier != nil && tier.CanSelectSubjects {
		subjects = incoming.SubjectIDs
		if subjects == nil && previous != nil && len(previous.SelectedSubjectIDs) > 0 {
			subjects = normalizeSubjects(previous.SelectedSubjectIDs)
			if tier.MaxSubjects > 0 && len(subjects) > tier.MaxSubjects {
				subjects = subjects[:tier.MaxSubjects]
			}
		}
	}
	if subjects == nil {
		subjects = []uint64{}
	}
	return grade, subjects
}
