package roster

import (
	"slices"
	"strings"

	"rollcall/pkg/types"
)

// Records builds a past session's attendance sheet: one record per enrolled
// student, present ones first, each group ordered by full name
// Present entries for students no longer enrolled are kept, named as the
// server reported them.
func Records(enrolled []types.Student, present []types.PresentEntry) []types.AttendanceRecord {
	byID := make(map[int64]types.PresentEntry, len(present))
	for _, p := range present {
		byID[p.StudentID] = p
	}

	records := make([]types.AttendanceRecord, 0, len(enrolled)+len(present))
	for _, s := range enrolled {
		record := types.AttendanceRecord{StudentID: s.ID, StudentName: s.FullName(), Status: types.StatusAbsent}
		if p, ok := byID[s.ID]; ok {
			record.Status = types.StatusPresent
			record.AttendedAt = p.AttendedAt
			delete(byID, s.ID)
		}
		records = append(records, record)
	}
	for _, p := range present {
		if _, ok := byID[p.StudentID]; !ok {
			continue
		}
		records = append(records, types.AttendanceRecord{
			StudentID:   p.StudentID,
			StudentName: p.StudentName,
			AttendedAt:  p.AttendedAt,
			Status:      types.StatusPresent,
		})
		delete(byID, p.StudentID)
	}

	slices.SortStableFunc(records, func(a, b types.AttendanceRecord) int {
		if (a.Status == types.StatusPresent) != (b.Status == types.StatusPresent) {
			if a.Status == types.StatusPresent {
				return -1
			}
			return 1
		}
		return strings.Compare(a.StudentName, b.StudentName)
	})
	return records
}
