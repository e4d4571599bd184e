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

package app

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

//The analogy program has one data input: a cohort CSV file with one row per
//subject. The header names the columns; the run configuration says which
//columns hold the follow-up dates, the conditions, and the demographics.
//Cohort exports from TriNetX and comparable real-world data platforms have
//this shape after the usual de-identification steps.

// parseCohortData parses a cohort CSV file into an in-memory dataset. The
// first record is the header; all data rows must have the same number of
// fields as the header.
func parseCohortData(fileName string) *rates.Dataset {
	file, err := os.Open(fileName)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		panic(err)
	}
	rows := [][]string{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		rows = append(rows, record)
	}
	logrus.WithFields(logrus.Fields{
		"file":    fileName,
		"columns": len(header),
		"rows":    len(rows),
	}).Info("Parsed cohort data")
	return rates.NewDataset(header, rows)
}

// BuildAnalysis parses a cohort CSV file and prepares the analysis for it:
// the parsed dataset is turned into a cohort and the subject filters are
// applied. The later pipeline stages fill in the intervals, the rate cells,
// and the reporting table. Every analysis gets a fresh run identifier that
// tags its log lines.
func BuildAnalysis(name, fileName string, cfg *rates.Config, filters []rates.SubjectFilter) (*rates.Analysis, error) {
	dataset := parseCohortData(fileName)
	cohort, err := rates.BuildCohort(dataset, cfg)
	if err != nil {
		return nil, err
	}
	cohort = rates.ApplySubjectFilters(filters, cohort)
	analysis := &rates.Analysis{
		Name:   name,
		RunID:  uuid.NewString(),
		Config: cfg,
		Cohort: cohort,
	}
	logrus.WithFields(logrus.Fields{
		"run":      analysis.RunID,
		"name":     analysis.Name,
		"subjects": len(cohort.Subjects),
	}).Info("Prepared analysis")
	return analysis, nil
}
