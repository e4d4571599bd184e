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
	"math"
	"testing"
	"time"

	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// flu2001Config is the configuration shared by the dated condition tests:
// the year 2001 split into two half-year intervals, one dated condition, and
// sex as the only demographic.
func flu2001Config() *rates.Config {
	return &rates.Config{
		StudyStart:     date(2001, time.January, 1),
		StudyEnd:       date(2002, time.January, 1),
		DateFormat:     rates.DefaultDateFormat,
		StartColumn:    "START_DATE",
		EndColumn:      "END_DATE",
		Conditions:     []string{"FLU"},
		Demographics:   []string{"SEX"},
		Scale:          1000,
		IntervalMonths: 6,
	}
}

// flu2001Dataset holds four valid subjects and two rejectable rows.
// S1 develops flu during the study, S2 stays healthy, S3 is a case from
// before the study window, and S4 is a case from follow-up entry on.
func flu2001Dataset() *rates.Dataset {
	columns := []string{"ID", "SEX", "START_DATE", "END_DATE", "FLU"}
	rows := [][]string{
		{"S1", "F", "2001-01-01", "2001-12-31", "2001-03-15"},
		{"S2", "M", "2001-06-01", "2001-08-31", ""},
		{"S3", "F", "2000-01-01", "2001-12-31", "2000-05-05"},
		{"S4", "M", "2001-09-01", "2001-11-30", "2001-09-01"},
		{"S5", "F", "garbage", "2001-12-31", ""},
		{"S6", "M", "2001-08-01", "2001-02-01", ""},
	}
	return rates.NewDataset(columns, rows)
}

func findCell(t *testing.T, cells []rates.RateCell, interval int, condition, label string) rates.RateCell {
	t.Helper()
	for _, cell := range cells {
		if cell.IntervalIndex == interval && cell.Condition == condition && cell.Stratum.Label() == label {
			return cell
		}
	}
	t.Fatalf("no cell for interval %d, condition %s, stratum %q", interval, condition, label)
	return rates.RateCell{}
}

func TestAddMonthsClampsDayOfMonth(t *testing.T) {
	assert.Equal(t, date(2000, time.February, 29), rates.AddMonths(date(2000, time.January, 31), 1))
	assert.Equal(t, date(2001, time.February, 28), rates.AddMonths(date(2001, time.January, 31), 1))
	assert.Equal(t, date(2002, time.January, 15), rates.AddMonths(date(2001, time.October, 15), 3))
	assert.Equal(t, date(2002, time.February, 28), rates.AddMonths(date(2001, time.December, 31), 2))
	assert.Equal(t, date(2001, time.November, 30), rates.AddMonths(date(2000, time.November, 30), 12))
}

func TestPartitionSplitsStudyWindow(t *testing.T) {
	intervals, err := rates.Partition(date(2001, time.January, 1), date(2001, time.December, 31), 6)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	assert.Equal(t, 0, intervals[0].Index)
	assert.Equal(t, date(2001, time.January, 1), intervals[0].Start)
	assert.Equal(t, date(2001, time.July, 1), intervals[0].End)
	assert.Equal(t, 1, intervals[1].Index)
	assert.Equal(t, date(2001, time.July, 1), intervals[1].Start)
	assert.Equal(t, date(2001, time.December, 31), intervals[1].End)
}

func TestPartitionClampsMonthBoundaries(t *testing.T) {
	intervals, err := rates.Partition(date(2000, time.January, 31), date(2000, time.May, 31), 1)
	require.NoError(t, err)
	require.Len(t, intervals, 4)
	assert.Equal(t, date(2000, time.February, 29), intervals[0].End)
	assert.Equal(t, date(2000, time.March, 31), intervals[1].End)
	assert.Equal(t, date(2000, time.April, 30), intervals[2].End)
	assert.Equal(t, date(2000, time.May, 31), intervals[3].End)
}

func TestPartitionCoversWindowWithoutGaps(t *testing.T) {
	studyStart := date(1999, time.February, 28)
	studyEnd := date(2004, time.July, 19)
	intervals, err := rates.Partition(studyStart, studyEnd, 5)
	require.NoError(t, err)
	require.NotEmpty(t, intervals)
	assert.Equal(t, studyStart, intervals[0].Start)
	assert.Equal(t, studyEnd, intervals[len(intervals)-1].End)
	for i, interval := range intervals {
		assert.Equal(t, i, interval.Index)
		assert.True(t, interval.Start.Before(interval.End))
		if i > 0 {
			assert.Equal(t, intervals[i-1].End, interval.Start)
		}
	}
}

func TestPartitionRejectsBadWindows(t *testing.T) {
	var cfgErr *rates.ConfigError
	_, err := rates.Partition(date(2001, time.January, 1), date(2001, time.January, 1), 6)
	require.ErrorAs(t, err, &cfgErr)
	_, err = rates.Partition(date(2002, time.January, 1), date(2001, time.January, 1), 6)
	require.ErrorAs(t, err, &cfgErr)
	_, err = rates.Partition(date(2001, time.January, 1), date(2002, time.January, 1), 0)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "interval_months", cfgErr.Field)
}

func TestConfigValidateRejectsContradictions(t *testing.T) {
	var cfgErr *rates.ConfigError

	cfg := flu2001Config()
	cfg.Conditions = []string{"FLU", "FLU"}
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "conditions", cfgErr.Field)

	cfg = flu2001Config()
	cfg.Demographics = []string{"FLU"}
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "demographics", cfgErr.Field)

	cfg = flu2001Config()
	cfg.Conditions = []string{"START_DATE"}
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "conditions", cfgErr.Field)

	cfg = flu2001Config()
	cfg.Conditions = nil
	require.ErrorAs(t, cfg.Validate(), &cfgErr)

	cfg = flu2001Config()
	cfg.Scale = 0
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "scale", cfgErr.Field)

	cfg = flu2001Config()
	cfg.StudyEnd = cfg.StudyStart
	require.ErrorAs(t, cfg.Validate(), &cfgErr)

	require.NoError(t, flu2001Config().Validate())
}

func TestBuildCohortResolvesObservedWindows(t *testing.T) {
	cfg := flu2001Config()
	columns := []string{"ID", "SEX", "START_DATE", "END_DATE", "FLU"}
	rows := [][]string{
		{"A", "F", "2000-05-01", "2001-03-31", ""}, //straddles the study start
		{"B", "M", "1999-01-01", "2000-06-30", ""}, //ends before the study window
		{"C", "F", "2001-04-01", "2003-01-01", ""}, //runs past the study end
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	require.Len(t, cohort.Subjects, 3)

	a, b, c := cohort.Subjects[0], cohort.Subjects[1], cohort.Subjects[2]
	assert.True(t, a.Observed)
	assert.Equal(t, cfg.StudyStart, a.ObservedStart)
	assert.Equal(t, date(2001, time.March, 31), a.ObservedEnd)
	assert.False(t, b.Observed)
	assert.True(t, c.Observed)
	assert.Equal(t, date(2001, time.April, 1), c.ObservedStart)
	assert.Equal(t, cfg.StudyEnd, c.ObservedEnd)

	// a subject without observed time is never at risk
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)
	assert.Equal(t, 2, findCell(t, cells, 0, "FLU", "").AtRisk)
	assert.Equal(t, 1, findCell(t, cells, 1, "FLU", "").AtRisk)
}

func TestBuildCohortRejectsBadRows(t *testing.T) {
	cohort, err := rates.BuildCohort(flu2001Dataset(), flu2001Config())
	require.NoError(t, err)
	assert.Len(t, cohort.Subjects, 4)
	require.Len(t, cohort.Rejected, 2)
	assert.Equal(t, 5, cohort.Rejected[0].Row)
	assert.Equal(t, rates.ReasonBadStartDate, cohort.Rejected[0].Reason)
	assert.Equal(t, 6, cohort.Rejected[1].Row)
	assert.Equal(t, rates.ReasonInvertedWindow, cohort.Rejected[1].Reason)
	require.Len(t, cohort.Strata, 2)
	assert.Equal(t, "F", cohort.Strata[0].Label())
	assert.Equal(t, "M", cohort.Strata[1].Label())
}

func TestBuildCohortClassifiesConditionColumns(t *testing.T) {
	columns := []string{"ID", "SEX", "START_DATE", "END_DATE", "SMOKER", "FLU", "NOISE"}
	rows := [][]string{
		{"A", "F", "2001-01-01", "2001-12-31", "1", "2001-02-03", "perhaps"},
		{"B", "M", "2001-01-01", "2001-12-31", "No", "not a date", "42"},
		{"C", "F", "2001-01-01", "2001-12-31", "", "", ""},
	}

	cfg := flu2001Config()
	cfg.Conditions = []string{"SMOKER", "FLU"}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	assert.Equal(t, rates.BinaryCondition, cohort.Modes[0])
	assert.Equal(t, rates.DatedCondition, cohort.Modes[1])
	// binary vocabulary is case-insensitive
	assert.True(t, cohort.Subjects[0].Flags[0])
	assert.False(t, cohort.Subjects[1].Flags[0])
	// an unparseable onset value counts as absence, the row stays
	require.NotNil(t, cohort.Subjects[0].Onsets[1])
	assert.Equal(t, date(2001, time.February, 3), *cohort.Subjects[0].Onsets[1])
	assert.Nil(t, cohort.Subjects[1].Onsets[1])
	assert.Nil(t, cohort.Subjects[2].Onsets[1])

	// a column that is neither dated nor binary rejects the run
	var cfgErr *rates.ConfigError
	cfg = flu2001Config()
	cfg.Conditions = []string{"NOISE"}
	_, err = rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "conditions", cfgErr.Field)

	// unknown column names reject the run
	cfg = flu2001Config()
	cfg.Conditions = []string{"ABSENT"}
	_, err = rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "conditions", cfgErr.Field)

	cfg = flu2001Config()
	cfg.Demographics = []string{"REGION"}
	_, err = rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "demographics", cfgErr.Field)
}

func TestComputeRatesDatedConditions(t *testing.T) {
	cfg := flu2001Config()
	cohort, err := rates.BuildCohort(flu2001Dataset(), cfg)
	require.NoError(t, err)
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)
	// 2 intervals x 1 condition x (overall + F + M)
	require.Len(t, cells, 6)

	// first half year: S1 turns incident after 73 days, S2 contributes 30
	// days, S3 is a case from before the window and contributes no time
	overall := findCell(t, cells, 0, "FLU", "")
	assert.Equal(t, 3, overall.AtRisk)
	assert.Equal(t, 1, overall.Incident)
	assert.Equal(t, 2, overall.Prevalent)
	assert.InDelta(t, 103.0/365.25, overall.PersonYears, 1e-9)
	assert.InDelta(t, 1000.0*365.25/103.0, overall.IncidenceRate, 1e-9)
	assert.InDelta(t, 2000.0/3.0, overall.PrevalenceRate, 1e-9)

	women := findCell(t, cells, 0, "FLU", "F")
	assert.Equal(t, 2, women.AtRisk)
	assert.Equal(t, 1, women.Incident)
	assert.Equal(t, 2, women.Prevalent)
	assert.InDelta(t, 73.0/365.25, women.PersonYears, 1e-9)

	men := findCell(t, cells, 0, "FLU", "M")
	assert.Equal(t, 1, men.AtRisk)
	assert.Equal(t, 0, men.Incident)
	assert.Equal(t, 0, men.Prevalent)
	assert.InDelta(t, 30.0/365.25, men.PersonYears, 1e-9)
	assert.Equal(t, 0.0, men.IncidenceRate)
	assert.Equal(t, 0.0, men.PrevalenceRate)

	// second half year: no new cases; S4 entered follow-up as a case and
	// counts as prevalent but never incident
	overall = findCell(t, cells, 1, "FLU", "")
	assert.Equal(t, 4, overall.AtRisk)
	assert.Equal(t, 0, overall.Incident)
	assert.Equal(t, 3, overall.Prevalent)
	assert.InDelta(t, 61.0/365.25, overall.PersonYears, 1e-9)
	assert.InDelta(t, 750.0, overall.PrevalenceRate, 1e-9)

	// both women are cases by now, so person-time is all censored away and
	// the incidence rate is undefined
	women = findCell(t, cells, 1, "FLU", "F")
	assert.Equal(t, 2, women.AtRisk)
	assert.Equal(t, 0.0, women.PersonYears)
	assert.True(t, math.IsNaN(women.IncidenceRate))
	assert.InDelta(t, 1000.0, women.PrevalenceRate, 1e-9)

	men = findCell(t, cells, 1, "FLU", "M")
	assert.Equal(t, 2, men.AtRisk)
	assert.Equal(t, 1, men.Prevalent)
	assert.InDelta(t, 61.0/365.25, men.PersonYears, 1e-9)
	assert.InDelta(t, 500.0, men.PrevalenceRate, 1e-9)
}

func TestComputeRatesBinaryConditions(t *testing.T) {
	cfg := flu2001Config()
	cfg.Conditions = []string{"SMOKER"}
	cfg.Demographics = nil
	columns := []string{"ID", "START_DATE", "END_DATE", "SMOKER"}
	rows := [][]string{
		{"B1", "2001-02-01", "2001-12-01", "1"},
		{"B2", "2001-08-01", "2001-12-31", "yes"},
		{"B3", "2001-01-01", "2001-12-31", "0"},
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	require.Equal(t, rates.BinaryCondition, cohort.Modes[0])
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)
	require.Len(t, cells, 2)

	// B1 is flagged and first observed in the first interval
	first := findCell(t, cells, 0, "SMOKER", "")
	assert.Equal(t, 2, first.AtRisk)
	assert.Equal(t, 1, first.Incident)
	assert.Equal(t, 1, first.Prevalent)
	assert.InDelta(t, 331.0/365.25, first.PersonYears, 1e-9)

	// B2 enters during the second interval and is counted as incident there;
	// B1 stays prevalent without counting as incident again
	second := findCell(t, cells, 1, "SMOKER", "")
	assert.Equal(t, 3, second.AtRisk)
	assert.Equal(t, 1, second.Incident)
	assert.Equal(t, 2, second.Prevalent)
	assert.InDelta(t, 488.0/365.25, second.PersonYears, 1e-9)
}

func TestComputeRatesPersonTimePartition(t *testing.T) {
	cfg := flu2001Config()
	cfg.StudyEnd = date(2001, time.December, 31)
	cfg.Demographics = nil
	columns := []string{"ID", "START_DATE", "END_DATE", "FLU"}
	rows := [][]string{
		{"P1", "2001-03-01", "2001-09-01", ""},
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)
	require.Len(t, cells, 2)

	// 122 days in the first interval, 62 in the second, together exactly the
	// subject's observed window
	first := findCell(t, cells, 0, "FLU", "")
	second := findCell(t, cells, 1, "FLU", "")
	assert.InDelta(t, 122.0/365.25, first.PersonYears, 1e-9)
	assert.InDelta(t, 62.0/365.25, second.PersonYears, 1e-9)
	assert.InDelta(t, 184.0/365.25, first.PersonYears+second.PersonYears, 1e-9)
}

func TestComputeRatesEmitsUndefinedRatesForEmptyIntervals(t *testing.T) {
	cfg := flu2001Config()
	cfg.Demographics = nil
	columns := []string{"ID", "START_DATE", "END_DATE", "FLU"}
	rows := [][]string{
		{"E1", "2001-01-01", "2001-03-31", ""},
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)

	// the second interval has an empty at-risk set; its cell is still
	// emitted, with undefined rates instead of zeroes
	empty := findCell(t, cells, 1, "FLU", "")
	assert.Equal(t, 0, empty.AtRisk)
	assert.Equal(t, 0.0, empty.PersonYears)
	assert.True(t, math.IsNaN(empty.IncidenceRate))
	assert.True(t, math.IsNaN(empty.PrevalenceRate))
}

func TestAggregateOrdersCells(t *testing.T) {
	cfg := flu2001Config()
	cfg.Conditions = []string{"ZZZ", "AAA"}
	cfg.Demographics = []string{"SEX"}
	columns := []string{"ID", "SEX", "START_DATE", "END_DATE", "ZZZ", "AAA"}
	rows := [][]string{
		{"A", "F", "2001-01-01", "2001-12-31", "1", "0"},
		{"B", "M", "2001-01-01", "2001-12-31", "0", "1"},
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)
	table := rates.Aggregate(cells, intervals)
	require.Len(t, table.Cells, 12)

	type key struct {
		interval  int
		condition string
		label     string
	}
	got := []key{}
	for _, cell := range table.Cells {
		got = append(got, key{cell.IntervalIndex, cell.Condition, cell.Stratum.Label()})
	}
	want := []key{
		{0, "AAA", ""}, {0, "AAA", "F"}, {0, "AAA", "M"},
		{0, "ZZZ", ""}, {0, "ZZZ", "F"}, {0, "ZZZ", "M"},
		{1, "AAA", ""}, {1, "AAA", "F"}, {1, "AAA", "M"},
		{1, "ZZZ", ""}, {1, "ZZZ", "F"}, {1, "ZZZ", "M"},
	}
	assert.Equal(t, want, got)
}

func TestAggregateIsDeterministic(t *testing.T) {
	cfg := flu2001Config()
	cfg.Conditions = []string{"SMOKER"}
	cfg.Demographics = nil
	columns := []string{"ID", "START_DATE", "END_DATE", "SMOKER"}
	rows := [][]string{
		{"B1", "2001-02-01", "2001-12-01", "1"},
		{"B2", "2001-08-01", "2001-12-31", "yes"},
		{"B3", "2001-01-01", "2001-12-31", "0"},
	}
	cohort, err := rates.BuildCohort(rates.NewDataset(columns, rows), cfg)
	require.NoError(t, err)
	intervals, err := rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	require.NoError(t, err)
	cells := rates.ComputeRates(cohort, intervals, cfg)

	reversed := make([]rates.RateCell, 0, len(cells))
	for i := len(cells) - 1; i >= 0; i-- {
		reversed = append(reversed, cells[i])
	}
	table1 := rates.Aggregate(cells, intervals)
	table2 := rates.Aggregate(reversed, intervals)
	assert.Equal(t, table1.Cells, table2.Cells)
}
