// ANALOGY: Incidence and Prevalence Analysis Library
// Copyright (c) 2022 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/THINKINGGroup/analogy-publication/blob/master/LICENSE.txt>.

package rates

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds descriptive statistics about a finished analysis run.
type Summary struct {
	RunID               string
	Subjects            int
	Rejected            int
	RejectedByReason    map[string]int
	EmptyWindows        int     //subjects whose follow-up misses the study window
	Intervals           int
	Cells               int
	UndefinedIncidence  int     //cells without person-time at risk
	UndefinedPrevalence int     //cells with an empty at-risk set
	TotalPersonYears    float64 //observed person-years over all subjects, before censoring
	MeanFollowUpYears   float64
	MedianFollowUpYears float64
}

// Summarize computes descriptive statistics for a finished analysis: cohort
// sizes, rejection counts per reason, observed person-time, and how many
// cells carry undefined rates.
func Summarize(a *Analysis) *Summary {
	summary := &Summary{
		RunID:            a.RunID,
		Subjects:         len(a.Cohort.Subjects),
		Rejected:         len(a.Cohort.Rejected),
		RejectedByReason: map[string]int{},
		Intervals:        len(a.Intervals),
		Cells:            len(a.Cells),
	}
	for _, rowErr := range a.Cohort.Rejected {
		summary.RejectedByReason[rowErr.Reason]++
	}
	years := []float64{}
	for _, s := range a.Cohort.Subjects {
		if !s.Observed {
			summary.EmptyWindows++
			continue
		}
		years = append(years, float64(daysBetween(s.ObservedStart, s.ObservedEnd))/DaysPerYear)
	}
	if len(years) > 0 {
		summary.TotalPersonYears = floats.Sum(years)
		summary.MeanFollowUpYears = stat.Mean(years, nil)
		sort.Float64s(years)
		summary.MedianFollowUpYears = stat.Quantile(0.5, stat.Empirical, years, nil)
	}
	for _, cell := range a.Cells {
		if math.IsNaN(cell.IncidenceRate) {
			summary.UndefinedIncidence++
		}
		if math.IsNaN(cell.PrevalenceRate) {
			summary.UndefinedPrevalence++
		}
	}
	return summary
}

// Log writes the summary to the structured log.
func (summary *Summary) Log() {
	logrus.WithFields(logrus.Fields{
		"run":                 summary.RunID,
		"subjects":            summary.Subjects,
		"rejected":            summary.Rejected,
		"emptyWindows":        summary.EmptyWindows,
		"intervals":           summary.Intervals,
		"cells":               summary.Cells,
		"undefinedIncidence":  summary.UndefinedIncidence,
		"undefinedPrevalence": summary.UndefinedPrevalence,
		"totalPersonYears":    summary.TotalPersonYears,
		"meanFollowUpYears":   summary.MeanFollowUpYears,
		"medianFollowUpYears": summary.MedianFollowUpYears,
	}).Info("Analysis summary")
	reasons := make([]string, 0, len(summary.RejectedByReason))
	for reason := range summary.RejectedByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		logrus.WithFields(logrus.Fields{
			"reason": reason,
			"rows":   summary.RejectedByReason[reason],
		}).Info("Rejected input rows")
	}
}
