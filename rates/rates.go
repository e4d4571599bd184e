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

// Package rates implements the incidence and prevalence calculation engine:
// study window partitioning, per-subject observed windows, at-risk sets, and
// rate computation with person-time accounting.
package rates

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/THINKINGGroup/analogy-publication/utils"
	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDateFormat is the layout used for date columns when the
	// configuration does not name one.
	DefaultDateFormat = "2006-01-02"
	// DaysPerYear converts day counts into person-years.
	DaysPerYear = 365.25
)

// Config groups the validated parameters of an analysis run. It is passed
// explicitly into every stage; there is no process-wide configuration state.
type Config struct {
	StudyStart     time.Time //first day of the study window
	StudyEnd       time.Time //exclusive end of the study window
	DateFormat     string    //Go time layout for all date columns
	StartColumn    string    //column with the follow-up start date
	EndColumn      string    //column with the follow-up end date
	Conditions     []string  //condition columns to analyse
	Demographics   []string  //columns whose value combinations define the strata
	Scale          float64   //reporting denominator, e.g. 1000 for rates per 1000 person-years
	IntervalMonths int       //interval length in months
}

// Validate checks the configuration for contradictions and reports the first
// problem found as a ConfigError.
func (cfg *Config) Validate() error {
	if cfg.StudyStart.IsZero() || cfg.StudyEnd.IsZero() {
		return &ConfigError{Field: "study window", Message: "study start and end dates are required"}
	}
	if !cfg.StudyStart.Before(cfg.StudyEnd) {
		return &ConfigError{Field: "study window", Message: fmt.Sprintf("study start %s does not precede study end %s",
			cfg.StudyStart.Format(DefaultDateFormat), cfg.StudyEnd.Format(DefaultDateFormat))}
	}
	if cfg.DateFormat == "" {
		return &ConfigError{Field: "date_format", Message: "a date layout is required"}
	}
	if cfg.IntervalMonths <= 0 {
		return &ConfigError{Field: "interval_months", Message: fmt.Sprintf("interval length must be a positive number of months, got %d", cfg.IntervalMonths)}
	}
	if cfg.Scale <= 0 {
		return &ConfigError{Field: "scale", Message: fmt.Sprintf("the reporting scale must be positive, got %v", cfg.Scale)}
	}
	if cfg.StartColumn == "" || cfg.EndColumn == "" {
		return &ConfigError{Field: "start_column", Message: "follow-up start and end column names are required"}
	}
	if cfg.StartColumn == cfg.EndColumn {
		return &ConfigError{Field: "end_column", Message: fmt.Sprintf("follow-up start and end both name column %q", cfg.StartColumn)}
	}
	if len(cfg.Conditions) == 0 {
		return &ConfigError{Field: "conditions", Message: "at least one condition column is required"}
	}
	seen := []string{}
	for _, c := range cfg.Conditions {
		if c == cfg.StartColumn || c == cfg.EndColumn {
			return &ConfigError{Field: "conditions", Message: fmt.Sprintf("column %q is already a follow-up date column", c)}
		}
		if utils.MemberString(c, seen) {
			return &ConfigError{Field: "conditions", Message: fmt.Sprintf("column %q is listed twice", c)}
		}
		seen = append(seen, c)
	}
	seen = []string{}
	for _, d := range cfg.Demographics {
		if d == cfg.StartColumn || d == cfg.EndColumn {
			return &ConfigError{Field: "demographics", Message: fmt.Sprintf("column %q is already a follow-up date column", d)}
		}
		if utils.MemberString(d, cfg.Conditions) {
			return &ConfigError{Field: "demographics", Message: fmt.Sprintf("column %q is already a condition column", d)}
		}
		if utils.MemberString(d, seen) {
			return &ConfigError{Field: "demographics", Message: fmt.Sprintf("column %q is listed twice", d)}
		}
		seen = append(seen, d)
	}
	return nil
}

// Dataset is an in-memory table parsed from a cohort CSV: a header and the
// data rows, all values as raw strings.
type Dataset struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// NewDataset creates a dataset from a header and data rows.
func NewDataset(columns []string, rows [][]string) *Dataset {
	index := map[string]int{}
	for i, c := range columns {
		index[c] = i
	}
	return &Dataset{Columns: columns, Rows: rows, index: index}
}

// Column returns the position of a named column in the dataset header.
func (ds *Dataset) Column(name string) (int, bool) {
	i, ok := ds.index[name]
	return i, ok
}

// Interval is one sub-interval of the study window. The interval covers the
// half-open date range [Start, End).
type Interval struct {
	Index int
	Start time.Time
	End   time.Time
}

// AddMonths adds a number of months to a date, clamping the day of the month
// to the last day of the target month: January 31 plus one month is February
// 28 or 29. Boundaries computed this way from a fixed start date do not
// accumulate clamping drift.
func AddMonths(t time.Time, months int) time.Time {
	y, m, _ := t.Date()
	total := y*12 + int(m) - 1 + months
	year, month := total/12, time.Month(total%12+1)
	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// daysIn returns the number of days in a month; day zero of the next month
// normalizes to the last day of the given one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Partition divides the study window [studyStart, studyEnd) into consecutive
// intervals of intervalMonths months each. Interval boundaries are studyStart
// plus i times intervalMonths; the last interval is clipped to studyEnd when
// the window does not divide evenly. The intervals are contiguous, do not
// overlap, and their union is exactly the study window.
func Partition(studyStart, studyEnd time.Time, intervalMonths int) ([]Interval, error) {
	if !studyStart.Before(studyEnd) {
		return nil, &ConfigError{Field: "study window", Message: fmt.Sprintf("study start %s does not precede study end %s",
			studyStart.Format(DefaultDateFormat), studyEnd.Format(DefaultDateFormat))}
	}
	if intervalMonths <= 0 {
		return nil, &ConfigError{Field: "interval_months", Message: fmt.Sprintf("interval length must be a positive number of months, got %d", intervalMonths)}
	}
	intervals := []Interval{}
	for i := 0; ; i++ {
		start := AddMonths(studyStart, i*intervalMonths)
		if !start.Before(studyEnd) {
			break
		}
		end := AddMonths(studyStart, (i+1)*intervalMonths)
		if end.After(studyEnd) {
			end = studyEnd
		}
		intervals = append(intervals, Interval{Index: i, Start: start, End: end})
	}
	return intervals, nil
}

// Subject represents one cohort member derived from an input row.
type Subject struct {
	Row           int          //1-based data row in the input, for reporting
	FollowUpStart time.Time    //start of the individual follow-up window
	FollowUpEnd   time.Time    //last day of the individual follow-up window
	ObservedStart time.Time    //follow-up window clipped to the study window
	ObservedEnd   time.Time
	Observed      bool         //false when follow-up lies entirely outside the study window
	Demographics  []string     //values aligned with the configured demographic columns
	Onsets        []*time.Time //onset date per dated condition column, nil when absent
	Flags         []bool       //presence per binary condition column
}

// overlaps checks whether the subject's observed window touches an interval.
// The observed end date is the last day under observation and counts as
// overlap when it falls on the interval start.
func (s *Subject) overlaps(interval Interval) bool {
	return s.Observed && !s.ObservedEnd.Before(interval.Start) && s.ObservedStart.Before(interval.End)
}

// ConditionMode says how a condition column encodes presence: as an onset
// date or as a binary flag.
type ConditionMode int

const (
	DatedCondition ConditionMode = iota
	BinaryCondition
)

// binary condition vocabulary; keys are lowercase
var truthy = map[string]bool{"1": true, "t": true, "true": true, "y": true, "yes": true}
var falsy = map[string]bool{"0": true, "f": true, "false": true, "n": true, "no": true}

func isBinaryValue(v string) bool {
	lv := strings.ToLower(v)
	return truthy[lv] || falsy[lv]
}

// Stratum is one combination of demographic column values, aligned with the
// configured demographic columns. The overall stratum has no values.
type Stratum struct {
	Values []string
}

// Label returns the composite stratum label: the values joined with "|" in
// column order, or the empty string for the overall stratum.
func (g Stratum) Label() string {
	return strings.Join(g.Values, "|")
}

// Matches checks whether a subject belongs to the stratum. The overall
// stratum matches every subject.
func (g Stratum) Matches(s *Subject) bool {
	for k, v := range g.Values {
		if s.Demographics[k] != v {
			return false
		}
	}
	return true
}

// Cohort is the normalized analysis input derived from a dataset: the
// accepted subjects, the classification of the condition columns, the
// distinct demographic strata, and the rejected rows.
type Cohort struct {
	Subjects     []*Subject
	Conditions   []string
	Modes        []ConditionMode
	Demographics []string
	Strata       []Stratum   //distinct observed value combinations, sorted by label
	Rejected     []*RowError //rows excluded while building the cohort
}

// ParseDate parses a date with the run's layout and normalizes it to a UTC
// midnight; the engine computes person-time at day precision.
func ParseDate(layout, value string) (time.Time, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// classifyConditionColumn determines how a condition column encodes presence
// by scanning its non-empty values. A column where every non-empty value
// belongs to the binary vocabulary is binary. A column where at least one
// value parses as a date with the configured layout is dated; its remaining
// unparseable values count as absence. Anything else rejects the
// configuration.
func classifyConditionColumn(ds *Dataset, idx int, name, layout string) (ConditionMode, error) {
	binary := true
	dated := false
	for _, record := range ds.Rows {
		v := strings.TrimSpace(record[idx])
		if v == "" {
			continue
		}
		if !isBinaryValue(v) {
			binary = false
		}
		if _, err := ParseDate(layout, v); err == nil {
			dated = true
		}
	}
	if binary { //also covers columns without any non-empty value
		return BinaryCondition, nil
	}
	if dated {
		return DatedCondition, nil
	}
	return 0, &ConfigError{Field: "conditions",
		Message: fmt.Sprintf("column %q holds neither dates in layout %q nor binary flags", name, layout)}
}

// collectStrata returns the distinct demographic value combinations observed
// in a list of subjects, sorted by composite label. Subjects with an empty
// value in any demographic column belong to no combination stratum; they
// still count towards the overall stratum.
func collectStrata(subjects []*Subject, demographics []string) []Stratum {
	if len(demographics) == 0 {
		return []Stratum{}
	}
	seen := map[string]Stratum{}
	for _, s := range subjects {
		complete := true
		for _, v := range s.Demographics {
			if v == "" {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		g := Stratum{Values: append([]string{}, s.Demographics...)}
		seen[g.Label()] = g
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	strata := make([]Stratum, 0, len(labels))
	for _, label := range labels {
		strata = append(strata, seen[label])
	}
	return strata
}

// BuildCohort turns a raw dataset into analysis subjects. All configured
// columns must occur in the dataset header and every condition column must
// classify as dated or binary; violations reject the whole run with a
// ConfigError. Rows with unparseable follow-up dates or an inverted follow-up
// window are excluded one by one and reported in Cohort.Rejected, and the
// analysis proceeds with the remaining rows.
func BuildCohort(ds *Dataset, cfg *Config) (*Cohort, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	startIdx, ok := ds.Column(cfg.StartColumn)
	if !ok {
		return nil, &ConfigError{Field: "start_column", Message: fmt.Sprintf("column %q does not occur in the dataset header", cfg.StartColumn)}
	}
	endIdx, ok := ds.Column(cfg.EndColumn)
	if !ok {
		return nil, &ConfigError{Field: "end_column", Message: fmt.Sprintf("column %q does not occur in the dataset header", cfg.EndColumn)}
	}
	condIdx := make([]int, len(cfg.Conditions))
	for k, name := range cfg.Conditions {
		if condIdx[k], ok = ds.Column(name); !ok {
			return nil, &ConfigError{Field: "conditions", Message: fmt.Sprintf("column %q does not occur in the dataset header", name)}
		}
	}
	demoIdx := make([]int, len(cfg.Demographics))
	for k, name := range cfg.Demographics {
		if demoIdx[k], ok = ds.Column(name); !ok {
			return nil, &ConfigError{Field: "demographics", Message: fmt.Sprintf("column %q does not occur in the dataset header", name)}
		}
	}
	modes := make([]ConditionMode, len(cfg.Conditions))
	for k, idx := range condIdx {
		mode, err := classifyConditionColumn(ds, idx, cfg.Conditions[k], cfg.DateFormat)
		if err != nil {
			return nil, err
		}
		modes[k] = mode
	}
	subjects := []*Subject{}
	rejected := []*RowError{}
	for i, record := range ds.Rows {
		row := i + 1
		rawStart := strings.TrimSpace(record[startIdx])
		followUpStart, err := ParseDate(cfg.DateFormat, rawStart)
		if err != nil {
			rowErr := &RowError{Row: row, Column: cfg.StartColumn, Reason: ReasonBadStartDate, Value: rawStart}
			logrus.Debug(rowErr.Error())
			rejected = append(rejected, rowErr)
			continue
		}
		rawEnd := strings.TrimSpace(record[endIdx])
		followUpEnd, err := ParseDate(cfg.DateFormat, rawEnd)
		if err != nil {
			rowErr := &RowError{Row: row, Column: cfg.EndColumn, Reason: ReasonBadEndDate, Value: rawEnd}
			logrus.Debug(rowErr.Error())
			rejected = append(rejected, rowErr)
			continue
		}
		if followUpStart.After(followUpEnd) {
			rowErr := &RowError{Row: row, Column: cfg.StartColumn, Reason: ReasonInvertedWindow, Value: rawStart + ".." + rawEnd}
			logrus.Debug(rowErr.Error())
			rejected = append(rejected, rowErr)
			continue
		}
		s := &Subject{Row: row, FollowUpStart: followUpStart, FollowUpEnd: followUpEnd}
		s.ObservedStart = maxTime(followUpStart, cfg.StudyStart)
		s.ObservedEnd = minTime(followUpEnd, cfg.StudyEnd)
		s.Observed = !s.ObservedStart.After(s.ObservedEnd)
		s.Demographics = make([]string, len(demoIdx))
		for k, idx := range demoIdx {
			s.Demographics[k] = strings.TrimSpace(record[idx])
		}
		s.Onsets = make([]*time.Time, len(condIdx))
		s.Flags = make([]bool, len(condIdx))
		for k, idx := range condIdx {
			v := strings.TrimSpace(record[idx])
			if v == "" {
				continue
			}
			switch modes[k] {
			case DatedCondition:
				if onset, err := ParseDate(cfg.DateFormat, v); err == nil {
					s.Onsets[k] = &onset
				}
				//unparseable onset values count as absence
			case BinaryCondition:
				s.Flags[k] = truthy[strings.ToLower(v)]
			}
		}
		subjects = append(subjects, s)
	}
	cohort := &Cohort{
		Subjects:     subjects,
		Conditions:   append([]string{}, cfg.Conditions...),
		Modes:        modes,
		Demographics: append([]string{}, cfg.Demographics...),
		Rejected:     rejected,
	}
	cohort.Strata = collectStrata(subjects, cohort.Demographics)
	logrus.WithFields(logrus.Fields{
		"subjects": len(subjects),
		"rejected": len(rejected),
		"strata":   len(cohort.Strata),
	}).Info("Built analysis cohort")
	return cohort, nil
}

// RateCell is the result for one interval x condition x stratum combination.
// A zero person-time or at-risk denominator yields a NaN rate; the cell is
// still part of the output and serializes with the NA marker.
type RateCell struct {
	IntervalIndex  int
	Condition      string
	Stratum        Stratum
	AtRisk         int     //subjects whose observed window overlaps the interval
	Incident       int     //new cases attributed to the interval
	Prevalent      int     //cases present by the interval end
	PersonYears    float64 //person-time at risk, in person-years
	IncidenceRate  float64 //Incident / PersonYears x Scale
	PrevalenceRate float64 //Prevalent / AtRisk x Scale
}

// scaledRate returns numerator/denominator scaled to the reporting
// denominator. A zero denominator yields NaN, the undefined marker, never a
// zero.
func scaledRate(numerator, denominator, scale float64) float64 {
	if denominator == 0 {
		return math.NaN()
	}
	return numerator / denominator * scale
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// daysBetween counts the days from a to b; both are UTC midnights.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

// firstOverlapIndex returns the index of the first interval a subject's
// observed window overlaps, or -1 when it overlaps none.
func firstOverlapIndex(s *Subject, intervals []Interval) int {
	for _, interval := range intervals {
		if s.overlaps(interval) {
			return interval.Index
		}
	}
	return -1
}

// computeSeries computes the full interval series of rate cells for one
// condition and one stratum.
//
// For a dated condition the incidence semantics follow onset dates: a case
// is incident in the interval its onset falls into, provided the onset is
// strictly after the subject's follow-up start (cases present at entry are
// prevalent, never incident). Subjects that are a case before the interval
// no longer count towards person-time, and person-time of subjects whose
// onset falls inside the interval is censored at the onset.
//
// For a binary condition presence is an ever-present flag without a date:
// a flagged subject counts as incident in the first interval their observed
// window overlaps and as prevalent in every overlapped interval, and
// person-time is the plain overlap without censoring.
func computeSeries(cohort *Cohort, intervals []Interval, cfg *Config, c int, g Stratum, first []int) []RateCell {
	mode := cohort.Modes[c]
	condition := cohort.Conditions[c]
	cells := make([]RateCell, 0, len(intervals))
	for _, interval := range intervals {
		atRisk, incident, prevalent, days := 0, 0, 0, 0
		for si, s := range cohort.Subjects {
			if !g.Matches(s) || !s.overlaps(interval) {
				continue
			}
			atRisk++
			switch mode {
			case DatedCondition:
				onset := s.Onsets[c]
				if onset != nil && onset.Before(interval.End) {
					prevalent++
				}
				if onset != nil && !onset.Before(interval.Start) && onset.Before(interval.End) && onset.After(s.FollowUpStart) {
					incident++
				}
				if onset == nil || (!onset.Before(interval.Start) && onset.After(s.FollowUpStart)) {
					end := minTime(s.ObservedEnd, interval.End)
					if onset != nil {
						end = minTime(end, *onset)
					}
					start := maxTime(s.ObservedStart, interval.Start)
					if end.After(start) {
						days += daysBetween(start, end)
					}
				}
			case BinaryCondition:
				if s.Flags[c] {
					prevalent++
					if first[si] == interval.Index {
						incident++
					}
				}
				start := maxTime(s.ObservedStart, interval.Start)
				end := minTime(s.ObservedEnd, interval.End)
				if end.After(start) {
					days += daysBetween(start, end)
				}
			}
		}
		personYears := float64(days) / DaysPerYear
		cells = append(cells, RateCell{
			IntervalIndex:  interval.Index,
			Condition:      condition,
			Stratum:        g,
			AtRisk:         atRisk,
			Incident:       incident,
			Prevalent:      prevalent,
			PersonYears:    personYears,
			IncidenceRate:  scaledRate(float64(incident), personYears, cfg.Scale),
			PrevalenceRate: scaledRate(float64(prevalent), float64(atRisk), cfg.Scale),
		})
	}
	return cells
}

// ComputeRates computes one RateCell for every interval x condition x
// stratum combination, including the overall stratum. The series for the
// condition x stratum pairs are independent and are computed in parallel
// over shared-nothing tasks; the row order of the final table is fixed
// afterwards by Aggregate.
func ComputeRates(cohort *Cohort, intervals []Interval, cfg *Config) []RateCell {
	strata := append([]Stratum{{}}, cohort.Strata...)
	// first overlapped interval per subject, for the binary incidence model;
	// a cohort can lose all its rows to exclusions, and pargo does not accept
	// an empty range
	first := make([]int, len(cohort.Subjects))
	if len(cohort.Subjects) > 0 {
		parallel.Range(0, len(cohort.Subjects), 0, func(low, high int) {
			for i := low; i < high; i++ {
				first[i] = firstOverlapIndex(cohort.Subjects[i], intervals)
			}
		})
	}
	type series struct {
		condition, stratum int
	}
	tasks := []series{}
	for c := range cohort.Conditions {
		for g := range strata {
			tasks = append(tasks, series{condition: c, stratum: g})
		}
	}
	result := parallel.RangeReduce(0, len(tasks), 0, func(low, high int) interface{} {
		cells := []RateCell{}
		for t := low; t < high; t++ {
			task := tasks[t]
			cells = append(cells, computeSeries(cohort, intervals, cfg, task.condition, strata[task.stratum], first)...)
		}
		return cells
	}, func(result1, result2 interface{}) interface{} {
		r1 := result1.([]RateCell)
		r2 := result2.([]RateCell)
		return append(r1, r2...)
	})
	cells := result.([]RateCell)
	logrus.WithFields(logrus.Fields{
		"cells":      len(cells),
		"intervals":  len(intervals),
		"conditions": len(cohort.Conditions),
		"strata":     len(strata),
	}).Info("Computed rate cells")
	return cells
}

// Table is the flat reporting table assembled from rate cells.
type Table struct {
	Intervals []Interval
	Cells     []RateCell
}

// Aggregate assembles rate cells into the reporting table. Rows are ordered
// by interval index, then condition name, then stratum label; the overall
// stratum has the empty label and sorts first within its condition block.
// Aggregation is deterministic: the same cells produce the same table, row
// for row.
func Aggregate(cells []RateCell, intervals []Interval) *Table {
	sorted := make([]RateCell, len(cells))
	copy(sorted, cells)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IntervalIndex != sorted[j].IntervalIndex {
			return sorted[i].IntervalIndex < sorted[j].IntervalIndex
		}
		if sorted[i].Condition != sorted[j].Condition {
			return sorted[i].Condition < sorted[j].Condition
		}
		return sorted[i].Stratum.Label() < sorted[j].Stratum.Label()
	})
	return &Table{Intervals: intervals, Cells: sorted}
}

// Analysis bundles the inputs and outputs of one incidence and prevalence
// run for a specific cohort.
type Analysis struct {
	Name      string //name of the run, used to generate the names of the output files
	RunID     string //unique identifier of the run, for logging
	Config    *Config
	Cohort    *Cohort
	Intervals []Interval
	Cells     []RateCell
	Table     *Table
}
