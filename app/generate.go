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
	"fmt"
	"os"
	"time"

	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/THINKINGGroup/analogy-publication/utils"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastrand"
)

//The generator produces cohorts with the following schema:
//ID,SEX,ETHNICITY,START_DATE,END_DATE,ASTHMA,DIABETES
//START_DATE and END_DATE are the follow-up window; ASTHMA and DIABETES are
//dated condition columns with an onset inside the follow-up window.

// onsetBetween draws a day in [start, end].
func onsetBetween(rng *fastrand.RNG, start, end time.Time) time.Time {
	span := uint32(end.Sub(start)/(24*time.Hour)) + 1
	return start.AddDate(0, 0, int(rng.Uint32n(span)))
}

// GenerateDataset generates a synthetic cohort of n subjects. Follow-up
// windows start in the years 2000 through 2009 and last up to ten years.
// Roughly one in four subjects develops asthma and one in seven diabetes,
// with the onset inside the follow-up window. The same seed generates the
// same cohort.
func GenerateDataset(n int, seed uint32, layout string) *rates.Dataset {
	var rng fastrand.RNG
	rng.Seed(seed)
	columns := []string{"ID", "SEX", "ETHNICITY", "START_DATE", "END_DATE", "ASTHMA", "DIABETES"}
	sexes := []string{"M", "F"}
	ethnicities := []string{"White", "Black", "Asian", "Mixed", "Other"}
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		start := base.AddDate(0, 0, int(rng.Uint32n(3653)))
		end := start.AddDate(0, 0, utils.MaxInt(1, int(rng.Uint32n(3653))))
		row := []string{
			fmt.Sprintf("S%06d", i+1),
			sexes[rng.Uint32n(2)],
			ethnicities[rng.Uint32n(uint32(len(ethnicities)))],
			start.Format(layout),
			end.Format(layout),
			"",
			"",
		}
		if rng.Uint32n(4) == 0 {
			row[5] = onsetBetween(&rng, start, end).Format(layout)
		}
		if rng.Uint32n(7) == 0 {
			row[6] = onsetBetween(&rng, start, end).Format(layout)
		}
		rows = append(rows, row)
	}
	return rates.NewDataset(columns, rows)
}

// GenerateCohortData generates a synthetic cohort of n subjects and writes
// it to a CSV file.
func GenerateCohortData(fileName string, n int, seed uint32, layout string) {
	dataset := GenerateDataset(n, seed, layout)
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
	if err := w.Write(dataset.Columns); err != nil {
		panic(err)
	}
	for _, row := range dataset.Rows {
		if err := w.Write(row); err != nil {
			panic(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		panic(err)
	}
	logrus.WithFields(logrus.Fields{
		"file":     fileName,
		"subjects": n,
		"seed":     seed,
	}).Info("Generated cohort data")
}
