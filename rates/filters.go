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
	"github.com/sirupsen/logrus"
)

// SubjectFilter is a predicate over cohort subjects. Filters restrict an
// analysis to a subpopulation before any rates are computed.
type SubjectFilter func(s *Subject) bool

// ApplySubjectFilters restricts a cohort to the subjects accepted by every
// filter in a list and returns the restricted cohort. The demographic strata
// are collected anew from the remaining subjects, so value combinations that
// lose all their subjects drop out of the stratified output. The input
// cohort is left untouched.
func ApplySubjectFilters(filters []SubjectFilter, cohort *Cohort) *Cohort {
	if len(filters) == 0 {
		return cohort
	}
	subjects := []*Subject{}
	for _, s := range cohort.Subjects {
		keep := true
		for _, filter := range filters {
			if !filter(s) {
				keep = false
				break
			}
		}
		if keep {
			subjects = append(subjects, s)
		}
	}
	filtered := &Cohort{
		Subjects:     subjects,
		Conditions:   cohort.Conditions,
		Modes:        cohort.Modes,
		Demographics: cohort.Demographics,
		Rejected:     cohort.Rejected,
	}
	filtered.Strata = collectStrata(subjects, filtered.Demographics)
	logrus.WithFields(logrus.Fields{
		"filters":  len(filters),
		"subjects": len(subjects),
		"dropped":  len(cohort.Subjects) - len(subjects),
	}).Info("Applied subject filters")
	return filtered
}

// ObservedFilter keeps the subjects whose follow-up window touches the study
// window.
func ObservedFilter() SubjectFilter {
	return func(s *Subject) bool {
		return s.Observed
	}
}

// DemographicFilter keeps the subjects with a given value in a given
// demographic column. For a column that is not among the configured
// demographics the filter keeps every subject.
func DemographicFilter(cfg *Config, column, value string) SubjectFilter {
	for k, name := range cfg.Demographics {
		if name == column {
			index := k
			return func(s *Subject) bool {
				return s.Demographics[index] == value
			}
		}
	}
	logrus.WithField("column", column).Warn("Filter column is not a configured demographic, keeping all subjects")
	return func(s *Subject) bool {
		return true
	}
}
