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

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"

	"github.com/THINKINGGroup/analogy-publication/app"
	"github.com/THINKINGGroup/analogy-publication/rates"
	"github.com/THINKINGGroup/analogy-publication/utils"
	"github.com/sirupsen/logrus"
)

/*
Analogy is a tool for computing incidence and prevalence rates from cohort data.

Usage:
	analogy datasetFile outputPath [flags]

Example:
	analogy cohort.csv ./copd_study/ --start 2000-01-01 --end 2019-12-31 --startCol START_DATE --endCol END_DATE
	--conditions ASTHMA,COPD --demographics SEX,ETHNICITY --intervalMonths 12 --scale 1000 --name copd_study

The flags are:

--start date
	The first day of the study window, written in the configured date layout. Subjects are only observed from this
	day on, whatever their individual follow-up says.
--end date
	The last day of the study window, written in the configured date layout. The day itself still belongs to the
	study.
--dateFormat layout
	The Go time layout all date columns are written in, e.g. 2006-01-02 for ISO dates or 02/01/2006 for day-first
	dates. The layout applies to the study window flags, the follow-up columns, and dated condition columns alike.
	Defaults to 2006-01-02.
--startCol name
	The dataset column with the follow-up start date of each subject.
--endCol name
	The dataset column with the follow-up end date of each subject.
--conditions name,name,...
	The condition columns to analyse. A column either holds onset dates in the configured layout, or binary
	present/absent flags (1/0, t/f, true/false, y/n, yes/no). For dated columns incidence is attributed to the
	interval the onset falls into; for binary columns a flagged subject counts as incident in the first interval
	they are observed in.
--demographics name,name,...
	The demographic columns whose value combinations define the strata. Rates are reported once for the whole
	cohort and once per combination of values found in these columns.
--scale nr
	The reporting denominator of the rates, e.g. 1000 reports rates per 1000 person-years and per 1000 at-risk
	subjects. Defaults to 1000.
--intervalMonths nr
	The length of the reporting intervals in months. The study window is divided into consecutive intervals of
	this length; a remainder shorter than the interval length becomes a final, shorter interval. Defaults to 12.
--filters COLUMN=VALUE,...
	A list of filters to restrict the analysis to a subpopulation, e.g. SEX=F. Filter columns must be configured
	demographics.
--name string
	The name of the run. This is used to generate the names of the output files.
--config file
	A YAML file with the run configuration. Command line flags win over file values; built-in defaults fill
	whatever remains unset.
--generate nr
	Generate a synthetic cohort of the given number of subjects, write it to datasetFile, and analyse it. Useful
	for demonstration runs and benchmarks.
--seed nr
	The seed for the synthetic cohort generator. The same seed generates the same cohort.
--nrOfThreads nr
	The number of threads analogy uses.
*/

const (
	programVersion = 0.1
	programName    = "analogy"
)

func programMessage() string {
	return fmt.Sprint(programName, " version ", programVersion, " compiled with ", runtime.Version())
}

const analogyHelp = "\nanalogy parameters:\n" +
	"analogy datasetFile outputPath \n" +
	"[--start date]\n" +
	"[--end date]\n" +
	"[--dateFormat layout]\n" +
	"[--startCol name]\n" +
	"[--endCol name]\n" +
	"[--conditions name,name,...]\n" +
	"[--demographics name,name,...]\n" +
	"[--scale nr]\n" +
	"[--intervalMonths nr]\n" +
	"[--filters COLUMN=VALUE,...]\n" +
	"[--name string]\n" +
	"[--config file]\n" +
	"[--generate nr]\n" +
	"[--seed nr]\n" +
	"[--nrOfThreads nr]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(ioutil.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprint(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprint(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func getFileName(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	return s
}

func main() {
	var (
		// required parameters
		datasetFile string //The file with the cohort data (follow-up dates, conditions, demographics).
		outputPath  string //The path where output files are written.
		// optional flags
		start          string
		end            string
		dateFormat     string
		startCol       string
		endCol         string
		conditions     string
		demographics   string
		scale          float64
		intervalMonths int
		filters        string
		name           string
		configFile     string
		generate       int
		seed           int
		nrOfThreads    int
	)
	var flags flag.FlagSet
	// options for the analogy command
	flags.StringVar(&start, "start", "", "The first day of the study window, in the configured date "+
		"layout.")
	flags.StringVar(&end, "end", "", "The last day of the study window, in the configured date "+
		"layout.")
	flags.StringVar(&dateFormat, "dateFormat", "", "The Go time layout the date columns are written "+
		"in. Defaults to 2006-01-02.")
	flags.StringVar(&startCol, "startCol", "", "The dataset column with the follow-up start date.")
	flags.StringVar(&endCol, "endCol", "", "The dataset column with the follow-up end date.")
	flags.StringVar(&conditions, "conditions", "", "The condition columns to analyse, separated by "+
		"commas.")
	flags.StringVar(&demographics, "demographics", "", "The demographic columns that define the "+
		"strata, separated by commas.")
	flags.Float64Var(&scale, "scale", 0, "The reporting denominator of the rates. Defaults to 1000.")
	flags.IntVar(&intervalMonths, "intervalMonths", 0, "The length of the reporting intervals in "+
		"months. Defaults to 12.")
	flags.StringVar(&filters, "filters", "", "A list of COLUMN=VALUE filters to restrict the analysis "+
		"to a subpopulation.")
	flags.StringVar(&name, "name", "analysis", "The name of the run. This is used to generate the "+
		"names of the output files.")
	flags.StringVar(&configFile, "config", "", "A YAML file with the run configuration.")
	flags.IntVar(&generate, "generate", 0, "Generate a synthetic cohort of the given size into the "+
		"dataset file and analyse it.")
	flags.IntVar(&seed, "seed", 1, "The seed for the synthetic cohort generator.")
	flags.IntVar(&nrOfThreads, "nrOfThreads", 0, "The number of threads analogy uses.")
	// parse optional arguments
	parseFlags(flags, 3, analogyHelp)
	// parse required arguments
	datasetFile = getFileName(os.Args[1], analogyHelp)
	outputPath, _ = filepath.Abs(getFileName(os.Args[2], analogyHelp))
	outputPath = outputPath + string(filepath.Separator)
	fmt.Println("Output path: ", outputPath)
	// create output directory
	err := os.MkdirAll(filepath.Dir(outputPath), 0700)
	if err != nil {
		panic(err)
	}
	// configure the structured log
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(lvl)
	}
	// build an output command line
	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " ", datasetFile, " ", outputPath)
	if start != "" {
		fmt.Fprint(&command, " --start ", start)
	}
	if end != "" {
		fmt.Fprint(&command, " --end ", end)
	}
	if dateFormat != "" {
		fmt.Fprint(&command, " --dateFormat ", dateFormat)
	}
	if startCol != "" {
		fmt.Fprint(&command, " --startCol ", startCol)
	}
	if endCol != "" {
		fmt.Fprint(&command, " --endCol ", endCol)
	}
	if conditions != "" {
		fmt.Fprint(&command, " --conditions ", conditions)
	}
	if demographics != "" {
		fmt.Fprint(&command, " --demographics ", demographics)
	}
	if scale > 0 {
		fmt.Fprint(&command, " --scale ", scale)
	}
	if intervalMonths > 0 {
		fmt.Fprint(&command, " --intervalMonths ", intervalMonths)
	}
	if filters != "" {
		fmt.Fprint(&command, " --filters ", filters)
	}
	fmt.Fprint(&command, " --name ", name)
	if configFile != "" {
		fmt.Fprint(&command, " --config ", configFile)
	}
	if generate > 0 {
		fmt.Fprint(&command, " --generate ", generate, " --seed ", seed)
	}
	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
		fmt.Fprint(&command, " --nrOfThreads ", nrOfThreads)
	}
	// start execution
	logrus.Info(programMessage())
	logrus.Info("Executing command:\n", command.String())
	//1. Load and validate the run configuration
	cfg, err := app.LoadConfig(&app.Options{
		Start:          start,
		End:            end,
		DateFormat:     dateFormat,
		StartColumn:    startCol,
		EndColumn:      endCol,
		Conditions:     conditions,
		Demographics:   demographics,
		Scale:          scale,
		IntervalMonths: intervalMonths,
		ConfigFile:     configFile,
	})
	if err != nil {
		logrus.Fatal(err)
	}
	//2. Generate a synthetic cohort when requested
	if generate > 0 {
		app.GenerateCohortData(datasetFile, generate, uint32(seed), cfg.DateFormat)
	}
	//3. Parse the cohort data and build the analysis cohort
	analysis, err := app.BuildAnalysis(name, datasetFile, cfg, app.GetSubjectFilters(filters, cfg))
	if err != nil {
		logrus.Fatal(err)
	}
	//4. Partition the study window into reporting intervals
	analysis.Intervals, err = rates.Partition(cfg.StudyStart, cfg.StudyEnd, cfg.IntervalMonths)
	if err != nil {
		logrus.Fatal(err)
	}
	//5. Compute the rate cells and fix the reporting order
	analysis.Cells = rates.ComputeRates(analysis.Cohort, analysis.Intervals, cfg)
	analysis.Table = rates.Aggregate(analysis.Cells, analysis.Intervals)
	//6. Write the result files
	rates.WriteResultsToFile(analysis, outputPath)
	fmt.Println("Computed rate cells: ")
	for i := 0; i < utils.MinInt(len(analysis.Table.Cells), 25); i++ {
		rates.PrintCell(analysis.Table.Cells[i], analysis)
	}
	//7. Log the run summary
	rates.Summarize(analysis).Log()
}
