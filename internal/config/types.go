package config

import (
	"time"

	"github.com/satfetch/satfetch/internal/catalog"
)

// Filters is the subset of catalog.Filters an operator can set from a job
// config file.
type Filters = catalog.Filters

// Download holds the download tuning knobs for one job.
type Download struct {
	Enabled      bool
	Directory    string
	Parallel     int
	Resume       bool
	VerifyMD5    bool
	MaxRetries   int
	RetryBackoff float64 // base seconds for exponential backoff
	Timeout      time.Duration
	Entries      []string // glob patterns; nil means whole product
}

// DefaultDownload matches the original tool's per-job defaults.
func DefaultDownload() Download {
	return Download{
		Enabled:      true,
		Directory:    "./downloads",
		Parallel:     4,
		Resume:       true,
		VerifyMD5:    true,
		MaxRetries:   3,
		RetryBackoff: 2.0,
		Timeout:      300 * time.Second,
	}
}

// PostProcess holds post-processing configuration for one job.
type PostProcess struct {
	Enabled   bool
	Mode      string // "local" or "remote"
	OutputDir string
}

// DefaultPostProcess matches the original tool's defaults.
func DefaultPostProcess() PostProcess {
	return PostProcess{Mode: "local", OutputDir: "./output"}
}

// PostSearchFilter names a registered post-search filter and its params.
type PostSearchFilter struct {
	Type   string
	Params map[string]any
}

// Job is one download job's full configuration.
type Job struct {
	Name             string
	Collection       string
	Filters          Filters
	Download         Download
	PostProcess      PostProcess
	PostSearchFilter *PostSearchFilter
	Limit            *int
}

// Logging holds process-level logging configuration.
type Logging struct {
	Level string
	File  string
}

// App is the top-level parsed configuration file.
type App struct {
	Logging Logging
	Jobs    []Job
}
