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
	"strings"

	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/sirupsen/logrus"
)

// getSubjectFilter translates one --filters entry into a subject filter. An
// entry is either the keyword observed, which drops subjects whose follow-up
// misses the study window, or COLUMN=VALUE, which restricts the analysis to
// subjects with that value in that demographic column. Unknown entries keep
// all subjects.
func getSubjectFilter(entry string, cfg *rates.Config) rates.SubjectFilter {
	id := func(s *rates.Subject) bool { return true }
	switch entry {
	case "", "id":
		return id
	case "observed":
		return rates.ObservedFilter()
	}
	if column, value, ok := strings.Cut(entry, "="); ok {
		return rates.DemographicFilter(cfg, column, value)
	}
	logrus.WithField("filter", entry).Warn("Unknown filter, keeping all subjects")
	return id
}

// GetSubjectFilters translates the --filters command line value, a comma-
// separated list of filter entries, into subject filters.
func GetSubjectFilters(f string, cfg *rates.Config) []rates.SubjectFilter {
	if f == "" {
		return []rates.SubjectFilter{}
	}
	result := []rates.SubjectFilter{}
	for _, entry := range strings.Split(f, ",") {
		result = append(result, getSubjectFilter(strings.TrimSpace(entry), cfg))
	}
	return result
}
