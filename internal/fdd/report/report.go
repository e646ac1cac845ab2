package report

import (
	"sort"
	"time"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

// RuleSummary aggregates the transitions of one equipment rule inside the report window.
type RuleSummary struct {
	EquipmentID string
	RuleID      fdd.RuleID
	RuleName    string
	Raised      int
	Cleared     int
	ActiveFor   time.Duration
	ActiveAtEnd bool
}

// FaultReport is the content of a fault export.
type FaultReport struct {
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Events      []application.AlarmEvent
	Summaries   []RuleSummary
}

// Build sorts events chronologically and summarizes them per equipment rule. Active time is
// counted from each raise to the following clear, or to the end of the window.
func Build(events []application.AlarmEvent, from, to, generatedAt time.Time) FaultReport {
	sorted := make([]application.AlarmEvent, 0, len(events))
	for _, e := range events {
		if !from.IsZero() && e.At.Before(from) {
			continue
		}
		if !to.IsZero() && e.At.After(to) {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	type key struct {
		equipmentID string
		rule        fdd.RuleID
	}
	summaries := make(map[key]*RuleSummary)
	raisedAt := make(map[key]time.Time)
	var order []key
	for _, e := range sorted {
		k := key{e.EquipmentID, e.RuleID}
		s, ok := summaries[k]
		if !ok {
			s = &RuleSummary{EquipmentID: e.EquipmentID, RuleID: e.RuleID, RuleName: ruleName(e.RuleID)}
			summaries[k] = s
			order = append(order, k)
		}
		switch e.To {
		case fdd.AlarmActive:
			s.Raised++
			raisedAt[k] = e.At
			s.ActiveAtEnd = true
		case fdd.AlarmInactive:
			s.Cleared++
			start, open := raisedAt[k]
			if !open {
				// Raised before the window opened.
				start = from
			}
			if !start.IsZero() {
				s.ActiveFor += e.At.Sub(start)
			}
			delete(raisedAt, k)
			s.ActiveAtEnd = false
		}
	}
	end := to
	if end.IsZero() {
		end = generatedAt
	}
	for k, start := range raisedAt {
		if end.After(start) {
			summaries[k].ActiveFor += end.Sub(start)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].equipmentID != order[j].equipmentID {
			return order[i].equipmentID < order[j].equipmentID
		}
		return order[i].rule < order[j].rule
	})
	out := make([]RuleSummary, 0, len(order))
	for _, k := range order {
		out = append(out, *summaries[k])
	}
	return FaultReport{
		From:        from,
		To:          to,
		GeneratedAt: generatedAt,
		Events:      sorted,
		Summaries:   out,
	}
}

func ruleName(id fdd.RuleID) string {
	if rule, ok := fdd.LookupRule(id); ok {
		return rule.Name
	}
	return string(id)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
