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

import "fmt"

// ConfigError reports a malformed or contradictory analysis configuration,
// e.g. a study start that does not precede the study end, or a configured
// column that does not occur in the dataset header. Configuration errors are
// fatal and abort the run before any computation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Reason codes for rejected input rows.
const (
	ReasonBadStartDate   = "bad_start_date"
	ReasonBadEndDate     = "bad_end_date"
	ReasonInvertedWindow = "inverted_window"
)

// RowError reports a rejected input row. Row errors are recoverable: the row
// is excluded from the cohort, counted per reason in the run summary, and
// written to the exclusions output, while the analysis proceeds with the
// remaining rows.
type RowError struct {
	Row    int    //1-based data row in the input
	Column string //the offending column
	Reason string //one of the reason codes above
	Value  string //the raw cell value
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: column %s has value %q", e.Row, e.Reason, e.Column, e.Value)
}
