package store

import (
	"math"
	"sort"
	"strings"

	"github.com/rzbill/rookery/internal/measurement"
)

// Round2 rounds to two decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Newer orders measurements by date then time, newest first.
func Newer(a, b measurement.Measurement) bool {
	if a.Date != b.Date {
		return a.Date > b.Date
	}
	return a.Time > b.Time
}

// Comments joins metadata as "name: value, name: value". Nil when empty.
func Comments(fields []MetadataField) *string {
	if len(fields) == 0 {
		return nil
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.FieldName + ": " + f.FieldValue
	}
	s := strings.Join(parts, ", ")
	return &s
}

// BuildReport computes report rows from every stored measurement and the
// metadata of each subject. Backends that cannot push the aggregation into
// a query engine use it.
func BuildReport(all []measurement.Measurement, meta map[string][]MetadataField, q ReportQuery) []ReportRow {
	latest := map[string]measurement.Measurement{}
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, m := range all {
		if cur, ok := latest[m.SubjectID]; !ok || Newer(m, cur) {
			latest[m.SubjectID] = m
		}
		if m.Date >= q.Since {
			sums[m.SubjectID] += m.Weight
			counts[m.SubjectID]++
		}
	}

	rows := make([]ReportRow, 0, len(latest))
	for id, m := range latest {
		row := ReportRow{
			PenguinID:     id,
			LastSeen:      m.Date,
			Time:          m.Time,
			CurrentWeight: m.Weight,
			Status:        q.StatusOf(m.Weight),
			Comments:      Comments(meta[id]),
		}
		if n := counts[id]; n > 0 {
			avg := Round2(sums[id] / float64(n))
			row.AvgWeight7d = &avg
		}
		if q.Status != "" && row.Status != q.Status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LastSeen != rows[j].LastSeen {
			return rows[i].LastSeen > rows[j].LastSeen
		}
		if rows[i].Time != rows[j].Time {
			return rows[i].Time > rows[j].Time
		}
		return rows[i].PenguinID < rows[j].PenguinID
	})
	return rows
}

// BuildSummary aggregates every stored measurement.
func BuildSummary(all []measurement.Measurement, q ReportQuery) Summary {
	var s Summary
	subjects := map[string]struct{}{}
	var sum float64
	var n int
	for _, m := range all {
		subjects[m.SubjectID] = struct{}{}
		if m.Date >= q.Since {
			sum += m.Weight
			n++
		}
		if s.Heaviest == nil || m.Weight > s.Heaviest.Weight {
			s.Heaviest = &Extreme{ID: m.SubjectID, Weight: m.Weight}
		}
		if s.Lightest == nil || m.Weight < s.Lightest.Weight {
			s.Lightest = &Extreme{ID: m.SubjectID, Weight: m.Weight}
		}
	}
	s.TotalPenguins = len(subjects)
	if n > 0 {
		s.AvgWeight7d = Round2(sum / float64(n))
	}
	return s
}
