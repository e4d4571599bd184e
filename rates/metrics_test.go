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

package rates_test

import (
	"testing"

	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	a := buildFluAnalysis(t, "summary")
	summary := rates.Summarize(a)

	assert.Equal(t, "test-run", summary.RunID)
	assert.Equal(t, 4, summary.Subjects)
	assert.Equal(t, 2, summary.Rejected)
	assert.Equal(t, map[string]int{
		rates.ReasonBadStartDate:   1,
		rates.ReasonInvertedWindow: 1,
	}, summary.RejectedByReason)
	assert.Equal(t, 0, summary.EmptyWindows)
	assert.Equal(t, 2, summary.Intervals)
	assert.Equal(t, 6, summary.Cells)
	assert.Equal(t, 1, summary.UndefinedIncidence)
	assert.Equal(t, 0, summary.UndefinedPrevalence)

	// observed windows of 364, 91, 364, and 90 days
	assert.InDelta(t, 909.0/365.25, summary.TotalPersonYears, 1e-9)
	assert.InDelta(t, 909.0/4.0/365.25, summary.MeanFollowUpYears, 1e-9)
	assert.InDelta(t, 91.0/365.25, summary.MedianFollowUpYears, 1e-9)

	summary.Log()
}

func TestSummarizeCountsEmptyWindows(t *testing.T) {
	cfg := flu2001Config()
	columns := []string{"ID", "SEX", "START_DATE", "END_DATE", "FLU"}
	rows := [][]string{
		{"A", "F", "1999-01-01", "2000-06-30", ""},
		{"B", "M", "2001-02-01", "2001-06-30", ""},
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)
	a := &rates.Analysis{
		Name:      "windows",
		RunID:     "test-run",
		Config:    cfg,
		Cohort:    cohort,
		Intervals: intervals,
		Cells:     cells,
		Table:     rates.Aggregate(cells, intervals),
	}

	summary := rates.Summarize(a)
	assert.Equal(t, 2, summary.Subjects)
	assert.Equal(t, 1, summary.EmptyWindows)
	// only B contributes observed time, 149 days
	assert.InDelta(t, 149.0/365.25, summary.TotalPersonYears, 1e-9)
}
