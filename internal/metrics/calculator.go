package metrics

import (
	"math"
	"sort"
	"strings"
	"time"

	"liveattend/pkg/types"
)

// minSessionDuration stands in for a zero or negative session length
const minSessionDuration = time.Millisecond

// Compute derives per-student attendance and session-wide coverage.
// It is pure: the same inputs always yield the same output.
// FUNCTIONAL DISCOVERY: a student may carry several intervals (re-entries or
// duplicate rows); their union within the session bounds is what counts, so
// no student contributes more than the session length to coverage
func Compute(bounds types.SessionBounds, roster types.Roster, intervals []types.AttendanceInterval) types.SessionMetrics {
	duration := bounds.End.Sub(bounds.Start)
	effective := duration
	if effective < minSessionDuration {
		effective = minSessionDuration
	}

	byStudent := make(map[string][]types.AttendanceInterval, len(intervals))
	for _, iv := range intervals {
		byStudent[iv.StudentID] = append(byStudent[iv.StudentID], iv)
	}

	result := types.SessionMetrics{
		Students: make([]types.StudentMetrics, 0, len(roster)),
	}
	if duration > 0 {
		result.DurationMinutes = int(math.Floor(duration.Minutes() + 0.5))
	}

	var total time.Duration
	for _, student := range roster {
		sm := types.StudentMetrics{
			StudentID: student.ID,
			Name:      student.Name,
			Status:    types.StatusAbsent,
		}

		var spans []span
		for _, iv := range byStudent[student.ID] {
			if iv.CheckIn == nil {
				continue
			}
			sm.Status = types.StatusPresent
			if iv.CheckOut != nil && !iv.CheckOut.Before(*iv.CheckIn) {
				sm.Verified = true
			}
			if sp, ok := clip(iv, bounds); ok {
				spans = append(spans, sp)
			}
			sm.LastSeen = later(sm.LastSeen, lastSeen(iv))
			if sm.Confidence == nil && iv.AvgConfidence != nil {
				c := *iv.AvgConfidence
				sm.Confidence = &c
			}
		}

		present := union(spans)
		sm.AttendancePct = percent(float64(present) / float64(effective))
		total += present

		switch sm.Status {
		case types.StatusPresent:
			result.PresentCount++
		default:
			result.AbsentCount++
		}
		if sm.Verified {
			result.VerifiedCount++
		}
		result.Students = append(result.Students, sm)
	}

	if len(roster) > 0 {
		result.CoveragePct = percent(float64(total) / (float64(effective) * float64(len(roster))))
	}

	return result
}

type span struct {
	lo, hi time.Time
}

// clip is [in, out] ∩ [start, end]; false without a check-out or when empty
func clip(iv types.AttendanceInterval, bounds types.SessionBounds) (span, bool) {
	if iv.CheckIn == nil || iv.CheckOut == nil || iv.CheckOut.Before(*iv.CheckIn) {
		return span{}, false
	}
	lo := *iv.CheckIn
	if bounds.Start.After(lo) {
		lo = bounds.Start
	}
	hi := *iv.CheckOut
	if bounds.End.Before(hi) {
		hi = bounds.End
	}
	if !hi.After(lo) {
		return span{}, false
	}
	return span{lo: lo, hi: hi}, true
}

// union is the total length covered by spans, counting overlaps once
func union(spans []span) time.Duration {
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo.Before(spans[j].lo) })

	var total time.Duration
	var cur span
	for i, sp := range spans {
		switch {
		case i == 0:
			cur = sp
		case sp.lo.After(cur.hi):
			total += cur.hi.Sub(cur.lo)
			cur = sp
		case sp.hi.After(cur.hi):
			cur.hi = sp.hi
		}
	}
	if len(spans) > 0 {
		total += cur.hi.Sub(cur.lo)
	}
	return total
}

// percent rounds half up, as Math.round does, then clamps to [0, 100]
func percent(ratio float64) int {
	p := math.Floor(ratio*100 + 0.5)
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}

func lastSeen(iv types.AttendanceInterval) *time.Time {
	if iv.CheckOut != nil && !iv.CheckOut.Before(*iv.CheckIn) {
		return iv.CheckOut
	}
	return iv.CheckIn
}

func later(a, b *time.Time) *time.Time {
	if b == nil {
		return a
	}
	if a == nil || b.After(*a) {
		t := *b
		return &t
	}
	return a
}

// IntervalsFromEvents folds feed events into one interval per student: the
// earliest check-in and the latest check-out not before it. Check-outs with
// no earlier check-in are ignored here; events without a student id are
// skipped, so name-only events go through ResolveStudents first.
func IntervalsFromEvents(events []*types.AttendanceEvent) []types.AttendanceInterval {
	checkIns := make(map[string]time.Time)
	for _, ev := range events {
		if ev == nil || ev.StudentID == "" || ev.Action != types.ActionCheckIn {
			continue
		}
		if first, ok := checkIns[ev.StudentID]; !ok || ev.Time.Before(first) {
			checkIns[ev.StudentID] = ev.Time
		}
	}

	checkOuts := make(map[string]time.Time)
	for _, ev := range events {
		if ev == nil || ev.StudentID == "" || ev.Action != types.ActionCheckOut {
			continue
		}
		in, ok := checkIns[ev.StudentID]
		if !ok || ev.Time.Before(in) {
			continue
		}
		if last, ok := checkOuts[ev.StudentID]; !ok || ev.Time.After(last) {
			checkOuts[ev.StudentID] = ev.Time
		}
	}

	ids := make([]string, 0, len(checkIns))
	for id := range checkIns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	intervals := make([]types.AttendanceInterval, 0, len(ids))
	for _, id := range ids {
		in := checkIns[id]
		iv := types.AttendanceInterval{StudentID: id, CheckIn: &in}
		if out, ok := checkOuts[id]; ok {
			iv.CheckOut = &out
		}
		intervals = append(intervals, iv)
	}
	return intervals
}

// ResolveStudents fills in the student id of name-only events from roster.
// Names match after trimming, ignoring case; a name shared by several roster
// entries stays unresolved. events is not modified.
func ResolveStudents(events []*types.AttendanceEvent, roster types.Roster) []*types.AttendanceEvent {
	byName := make(map[string]string, len(roster))
	ambiguous := make(map[string]bool)
	for _, st := range roster {
		key := nameKey(st.Name)
		if key == "" {
			continue
		}
		if _, ok := byName[key]; ok {
			ambiguous[key] = true
			continue
		}
		byName[key] = st.ID
	}

	out := make([]*types.AttendanceEvent, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if ev.StudentID == "" {
			key := nameKey(ev.StudentName)
			if id, ok := byName[key]; ok && !ambiguous[key] {
				resolved := *ev
				resolved.StudentID = id
				ev = &resolved
			}
		}
		out = append(out, ev)
	}
	return out
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IntervalsFromRecords converts attendance query rows. An out time earlier
// than the in time is dropped, leaving the interval open.
func IntervalsFromRecords(records []types.AttendanceRecord) []types.AttendanceInterval {
	intervals := make([]types.AttendanceInterval, 0, len(records))
	for _, r := range records {
		iv := types.AttendanceInterval{
			StudentID:     r.StudentID,
			CheckIn:       r.InTime,
			CheckOut:      r.OutTime,
			AvgConfidence: r.AvgConfidence,
		}
		if iv.CheckIn == nil || (iv.CheckOut != nil && iv.CheckOut.Before(*iv.CheckIn)) {
			iv.CheckOut = nil
		}
		intervals = append(intervals, iv)
	}
	return intervals
}
