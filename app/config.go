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
	"fmt"
	"os"
	"strings"

	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultScale reports rates per 1000 person-years and per 1000 at-risk
	// subjects.
	DefaultScale = 1000
	// DefaultIntervalMonths partitions the study window into years.
	DefaultIntervalMonths = 12
)

// Options collects the raw command line values of a run before they are
// merged with the configuration file and the built-in defaults.
type Options struct {
	Start          string
	End            string
	DateFormat     string
	StartColumn    string
	EndColumn      string
	Conditions     string
	Demographics   string
	Scale          float64
	IntervalMonths int
	ConfigFile     string
}

// fileConfig is the YAML shape of the optional configuration file.
type fileConfig struct {
	StudyStart     string   `yaml:"study_start"`
	StudyEnd       string   `yaml:"study_end"`
	DateFormat     string   `yaml:"date_format"`
	StartColumn    string   `yaml:"start_column"`
	EndColumn      string   `yaml:"end_column"`
	Scale          float64  `yaml:"scale"`
	IntervalMonths int      `yaml:"interval_months"`
	Conditions     []string `yaml:"conditions"`
	Demographics   []string `yaml:"demographics"`
}

// splitColumns splits a comma-separated list of column names, dropping empty
// entries.
func splitColumns(s string) []string {
	columns := []string{}
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	return columns
}

// LoadConfig merges the command line options, the optional YAML
// configuration file, and the built-in defaults into a validated run
// configuration. Command line values win over file values; the defaults fill
// whatever remains unset. The study end date is given as the last study day
// on the command line and in the file, and is turned here into the exclusive
// boundary the engine computes with.
func LoadConfig(options *Options) (*rates.Config, error) {
	fc := &fileConfig{}
	if options.ConfigFile != "" {
		data, err := os.ReadFile(options.ConfigFile)
		if err != nil {
			return nil, &rates.ConfigError{Field: "config", Message: err.Error()}
		}
		if err := yaml.Unmarshal(data, fc); err != nil {
			return nil, &rates.ConfigError{Field: "config", Message: err.Error()}
		}
		logrus.WithField("file", options.ConfigFile).Info("Loaded configuration file")
	}
	start := options.Start
	if start == "" {
		start = fc.StudyStart
	}
	end := options.End
	if end == "" {
		end = fc.StudyEnd
	}
	dateFormat := options.DateFormat
	if dateFormat == "" {
		dateFormat = fc.DateFormat
	}
	if dateFormat == "" {
		dateFormat = rates.DefaultDateFormat
	}
	startColumn := options.StartColumn
	if startColumn == "" {
		startColumn = fc.StartColumn
	}
	endColumn := options.EndColumn
	if endColumn == "" {
		endColumn = fc.EndColumn
	}
	conditions := splitColumns(options.Conditions)
	if len(conditions) == 0 {
		conditions = fc.Conditions
	}
	demographics := splitColumns(options.Demographics)
	if len(demographics) == 0 {
		demographics = fc.Demographics
	}
	scale := options.Scale
	if scale == 0 {
		scale = fc.Scale
	}
	if scale == 0 {
		scale = DefaultScale
	}
	intervalMonths := options.IntervalMonths
	if intervalMonths == 0 {
		intervalMonths = fc.IntervalMonths
	}
	if intervalMonths == 0 {
		intervalMonths = DefaultIntervalMonths
	}
	if start == "" {
		return nil, &rates.ConfigError{Field: "study window", Message: "a study start date is required"}
	}
	if end == "" {
		return nil, &rates.ConfigError{Field: "study window", Message: "a study end date is required"}
	}
	studyStart, err := rates.ParseDate(dateFormat, start)
	if err != nil {
		return nil, &rates.ConfigError{Field: "study window", Message: fmt.Sprintf("start date %q does not match layout %q", start, dateFormat)}
	}
	studyEnd, err := rates.ParseDate(dateFormat, end)
	if err != nil {
		return nil, &rates.ConfigError{Field: "study window", Message: fmt.Sprintf("end date %q does not match layout %q", end, dateFormat)}
	}
	cfg := &rates.Config{
		StudyStart:     studyStart,
		StudyEnd:       studyEnd.AddDate(0, 0, 1), //the configured end date is the last study day
		DateFormat:     dateFormat,
		StartColumn:    startColumn,
		EndColumn:      endColumn,
		Conditions:     conditions,
		Demographics:   demographics,
		Scale:          scale,
		IntervalMonths: intervalMonths,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
