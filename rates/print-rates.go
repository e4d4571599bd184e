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
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatRate serializes a rate value; undefined rates print as NA.
func formatRate(x float64) string {
	if math.IsNaN(x) {
		return "NA"
	}
	return strconv.FormatFloat(x, 'f', 6, 64)
}

// stratumDisplay returns the stratum label for output; the overall stratum
// prints as Overall.
func stratumDisplay(label string) string {
	if label == "" {
		return "Overall"
	}
	return label
}

// PrintCell prints a rate cell to standard output.
func PrintCell(cell RateCell, a *Analysis) {
	interval := a.Intervals[cell.IntervalIndex]
	fmt.Printf("%s [%s,%s) %s: at risk: %d, incident: %d, prevalent: %d, person-years: %s, incidence: %s, prevalence: %s\n",
		cell.Condition,
		interval.Start.Format(a.Config.DateFormat),
		interval.End.Format(a.Config.DateFormat),
		stratumDisplay(cell.Stratum.Label()),
		cell.AtRisk,
		cell.Incident,
		cell.Prevalent,
		strconv.FormatFloat(cell.PersonYears, 'f', 4, 64),
		formatRate(cell.IncidenceRate),
		formatRate(cell.PrevalenceRate))
}

// writeRatesCSV writes the full reporting table of an analysis, one row per
// rate cell, in the row order fixed by Aggregate.
func writeRatesCSV(a *Analysis, fileName string) {
	file, err := os.Create(fileName)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	w := csv.NewWriter(file)
	header := []string{"interval_index", "interval_start", "interval_end", "condition", "stratum",
		"at_risk_count", "incident_count", "prevalent_count", "person_time", "incidence_rate", "prevalence_rate"}
	if err := w.Write(header); err != nil {
		panic(err)
	}
	for _, cell := range a.Table.Cells {
		interval := a.Intervals[cell.IntervalIndex]
		record := []string{
			strconv.Itoa(cell.IntervalIndex),
			interval.Start.Format(a.Config.DateFormat),
			interval.End.Format(a.Config.DateFormat),
			cell.Condition,
			stratumDisplay(cell.Stratum.Label()),
			strconv.Itoa(cell.AtRisk),
			strconv.Itoa(cell.Incident),
			strconv.Itoa(cell.Prevalent),
			strconv.FormatFloat(cell.PersonYears, 'f', 4, 64),
			formatRate(cell.IncidenceRate),
			formatRate(cell.PrevalenceRate),
		}
		if err := w.Write(record); err != nil {
			panic(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		panic(err)
	}
}

// writeViewCSV writes one of the two single-metric views of the reporting
// table. The views keep the column layout of earlier cohort studies:
// Condition, Date, Group, Subgroup, the rate, and its numerator and
// denominator. The incidence view reports new cases against person-years,
// the prevalence view reports present cases against the at-risk count.
func writeViewCSV(a *Analysis, fileName, metric string) {
	file, err := os.Create(fileName)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	w := csv.NewWriter(file)
	header := []string{"Condition", "Date", "Group", "Subgroup", metric, "Numerator", "Denominator"}
	if err := w.Write(header); err != nil {
		panic(err)
	}
	group := strings.Join(a.Config.Demographics, "|")
	for _, cell := range a.Table.Cells {
		interval := a.Intervals[cell.IntervalIndex]
		cellGroup, subgroup := "Overall", ""
		if label := cell.Stratum.Label(); label != "" {
			cellGroup, subgroup = group, label
		}
		var rate, numerator, denominator string
		switch metric {
		case "Incidence":
			rate = formatRate(cell.IncidenceRate)
			numerator = strconv.Itoa(cell.Incident)
			denominator = strconv.FormatFloat(cell.PersonYears, 'f', 4, 64)
		case "Prevalence":
			rate = formatRate(cell.PrevalenceRate)
			numerator = strconv.Itoa(cell.Prevalent)
			denominator = strconv.Itoa(cell.AtRisk)
		}
		record := []string{cell.Condition, interval.Start.Format(a.Config.DateFormat), cellGroup, subgroup, rate, numerator, denominator}
		if err := w.Write(record); err != nil {
			panic(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		panic(err)
	}
}

// writeExclusionsCSV writes the input rows that were excluded while building
// the cohort, with the reason for each exclusion.
func writeExclusionsCSV(a *Analysis, fileName string) {
	file, err := os.Create(fileName)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	w := csv.NewWriter(file)
	if err := w.Write([]string{"row", "column", "reason", "value"}); err != nil {
		panic(err)
	}
	for _, rowErr := range a.Cohort.Rejected {
		record := []string{strconv.Itoa(rowErr.Row), rowErr.Column, rowErr.Reason, rowErr.Value}
		if err := w.Write(record); err != nil {
			panic(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		panic(err)
	}
}

// WriteResultsToFile writes the output files of an analysis to a given path:
// the full rates table, the incidence and prevalence views, and the excluded
// input rows. File names are derived from the analysis name.
func WriteResultsToFile(a *Analysis, path string) {
	writeRatesCSV(a, filepath.Join(path, fmt.Sprintf("%s-rates.csv", a.Name)))
	writeViewCSV(a, filepath.Join(path, fmt.Sprintf("%s-incidence.csv", a.Name)), "Incidence")
	writeViewCSV(a, filepath.Join(path, fmt.Sprintf("%s-prevalence.csv", a.Name)), "Prevalence")
	writeExclusionsCSV(a, filepath.Join(path, fmt.Sprintf("%s-exclusions.csv", a.Name)))
	logrus.WithFields(logrus.Fields{
		"name": a.Name,
		"path": path,
	}).Info("Wrote analysis results")
}
