package report

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders a report as a fixed multi-line string. The output is
// deterministic: sections are sorted by descending cost with name as the
// tiebreak, so the same report always renders byte-identically.
func Format(rep *CostReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cost Report (%s)\n", rep.Period)
	fmt.Fprintf(&b, "Period: %s to %s\n", rep.StartDate, rep.EndDate)
	fmt.Fprintf(&b, "Total Cost: $%.4f\n", rep.TotalCost)
	fmt.Fprintf(&b, "Total Requests: %d\n", rep.RequestCount)
	fmt.Fprintf(&b, "Average Cost/Request: $%.6f\n", rep.AverageCostPerRequest)

	b.WriteString("\nBy Feature:\n")
	writeSection(&b, rep.ByFeature, rep.TotalCost)

	b.WriteString("\nBy Model:\n")
	writeSection(&b, rep.ByModel, rep.TotalCost)

	return b.String()
}

type costEntry struct {
	name string
	cost float64
}

func writeSection(b *strings.Builder, costs map[string]float64, total float64) {
	entries := make([]costEntry, 0, len(costs))
	for name, cost := range costs {
		entries = append(entries, costEntry{name: name, cost: cost})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].cost != entries[j].cost {
			return entries[i].cost > entries[j].cost
		}
		return entries[i].name < entries[j].name
	})

	for _, e := range entries {
		fmt.Fprintf(b, "  %s: $%.4f (%s%%)\n", e.name, e.cost, percent(e.cost, total))
	}
}

func percent(cost, total float64) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", cost/total*100)
}
