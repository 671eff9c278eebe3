// Package config loads a YAML job-configuration file: environment-variable
// interpolation, path resolution relative to the config file, and
// validation of the job list.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{(\w+)}`)

func interpolateEnvVars(value string) (string, error) {
	var firstErr error
	result := envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		v := os.Getenv(name)
		if v == "" && firstErr == nil {
			firstErr = fmt.Errorf("config: environment variable %q is not set", name)
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func interpolateRecursive(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return interpolateEnvVars(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			iv, err := interpolateRecursive(val)
			if err != nil {
				return nil, err
			}
			out[k] = iv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			iv, err := interpolateRecursive(val)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	default:
		return v, nil
	}
}

func parseDatetime(value string) (time.Time, error) {
	if strings.HasSuffix(value, "Z") {
		value = value[:len(value)-1] + "+00:00"
	}
	return time.Parse("2006-01-02T15:04:05.999999999-07:00", value)
}

var filterStringFields = []string{
	"geo", "bbox", "sat", "timeliness", "filename", "title", "product_type",
	"type", "publication", "download_coverage", "coverage",
	"repeatCycleIdentifier", "centerOfLongitude", "set", "sort",
}

var filterIntFields = []string{"cycle", "orbit", "relorbit"}

func parseFilters(data map[string]any) (Filters, error) {
	var f Filters

	if raw, ok := data["dtstart"]; ok {
		t, err := parseDatetime(fmt.Sprint(raw))
		if err != nil {
			return f, fmt.Errorf("config: dtstart: %w", err)
		}
		f.DtStart = &t
	}
	if raw, ok := data["dtend"]; ok {
		t, err := parseDatetime(fmt.Sprint(raw))
		if err != nil {
			return f, fmt.Errorf("config: dtend: %w", err)
		}
		f.DtEnd = &t
	}

	setStr := func(field *string, key string) {
		if raw, ok := data[key]; ok {
			*field = fmt.Sprint(raw)
		}
	}
	setStr(&f.Geo, "geo")
	setStr(&f.BBox, "bbox")
	setStr(&f.Sat, "sat")
	setStr(&f.Timeliness, "timeliness")
	setStr(&f.Filename, "filename")
	setStr(&f.Title, "title")
	setStr(&f.ProductType, "product_type")
	setStr(&f.Type, "type")
	setStr(&f.Publication, "publication")
	setStr(&f.DownloadCoverage, "download_coverage")
	setStr(&f.Coverage, "coverage")
	setStr(&f.RepeatCycleIdentifier, "repeatCycleIdentifier")
	setStr(&f.CenterOfLongitude, "centerOfLongitude")
	setStr(&f.Set, "set")
	setStr(&f.Sort, "sort")
	_ = filterStringFields

	setInt := func(field **int, key string) error {
		raw, ok := data[key]
		if !ok {
			return nil
		}
		n, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*field = &n
		return nil
	}
	if err := setInt(&f.Cycle, "cycle"); err != nil {
		return f, err
	}
	if err := setInt(&f.Orbit, "orbit"); err != nil {
		return f, err
	}
	if err := setInt(&f.RelOrbit, "relorbit"); err != nil {
		return f, err
	}
	_ = filterIntFields

	return f, nil
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", raw)
	}
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("cannot convert %T to bool", raw)
	}
}

func resolvePath(pathStr, baseDir string) string {
	if filepath.IsAbs(pathStr) {
		return pathStr
	}
	return filepath.Join(baseDir, pathStr)
}

func parseDownload(data map[string]any, baseDir string) (Download, error) {
	cfg := DefaultDownload()

	if raw, ok := data["directory"]; ok {
		cfg.Directory = resolvePath(fmt.Sprint(raw), baseDir)
	}
	if raw, ok := data["parallel"]; ok {
		n, err := toInt(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: download.parallel: %w", err)
		}
		cfg.Parallel = n
	}
	if raw, ok := data["resume"]; ok {
		b, err := toBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: download.resume: %w", err)
		}
		cfg.Resume = b
	}
	if raw, ok := data["verify_md5"]; ok {
		b, err := toBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: download.verify_md5: %w", err)
		}
		cfg.VerifyMD5 = b
	}
	if raw, ok := data["max_retries"]; ok {
		n, err := toInt(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: download.max_retries: %w", err)
		}
		cfg.MaxRetries = n
	}
	if raw, ok := data["retry_backoff"]; ok {
		f, err := toFloat(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: download.retry_backoff: %w", err)
		}
		cfg.RetryBackoff = f
	}
	if raw, ok := data["timeout"]; ok {
		f, err := toFloat(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: download.timeout: %w", err)
		}
		cfg.Timeout = time.Duration(f * float64(time.Second))
	}
	if raw, ok := data["entries"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return cfg, fmt.Errorf("config: download.entries must be a list")
		}
		entries := make([]string, len(list))
		for i, v := range list {
			entries[i] = fmt.Sprint(v)
		}
		cfg.Entries = entries
	}
	return cfg, nil
}

func parsePostProcess(data map[string]any, baseDir string) (PostProcess, error) {
	cfg := DefaultPostProcess()
	if raw, ok := data["enabled"]; ok {
		b, err := toBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: post_process.enabled: %w", err)
		}
		cfg.Enabled = b
	}
	if raw, ok := data["mode"]; ok {
		cfg.Mode = fmt.Sprint(raw)
	}
	if raw, ok := data["output_dir"]; ok {
		cfg.OutputDir = resolvePath(fmt.Sprint(raw), baseDir)
	}
	return cfg, nil
}

func parsePostSearchFilter(data map[string]any) (*PostSearchFilter, error) {
	typ, ok := data["type"]
	if !ok {
		return nil, fmt.Errorf("config: post_search_filter is missing required 'type' field")
	}
	f := &PostSearchFilter{Type: fmt.Sprint(typ), Params: map[string]any{}}
	if raw, ok := data["params"]; ok {
		params, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: post_search_filter.params must be a mapping")
		}
		f.Params = params
	}
	return f, nil
}

func parseJob(data map[string]any, baseDir string) (Job, error) {
	name, _ := data["name"].(string)
	if name == "" {
		name = "default"
	}

	collection, ok := data["collection"]
	if !ok {
		return Job{}, fmt.Errorf("config: job %q is missing required 'collection' field", name)
	}

	job := Job{
		Name:        name,
		Collection:  fmt.Sprint(collection),
		Download:    DefaultDownload(),
		PostProcess: DefaultPostProcess(),
	}

	if raw, ok := data["filters"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return job, fmt.Errorf("config: job %q: filters must be a mapping", name)
		}
		f, err := parseFilters(m)
		if err != nil {
			return job, err
		}
		job.Filters = f
	}

	if raw, ok := data["download"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return job, fmt.Errorf("config: job %q: download must be a mapping", name)
		}
		d, err := parseDownload(m, baseDir)
		if err != nil {
			return job, err
		}
		job.Download = d
	}

	if raw, ok := data["post_process"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return job, fmt.Errorf("config: job %q: post_process must be a mapping", name)
		}
		p, err := parsePostProcess(m, baseDir)
		if err != nil {
			return job, err
		}
		job.PostProcess = p
	}

	if raw, ok := data["post_search_filter"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return job, fmt.Errorf("config: job %q: post_search_filter must be a mapping", name)
		}
		psf, err := parsePostSearchFilter(m)
		if err != nil {
			return job, err
		}
		job.PostSearchFilter = psf
	}

	if raw, ok := data["limit"]; ok {
		n, err := toInt(raw)
		if err != nil {
			return job, fmt.Errorf("config: job %q: limit: %w", name, err)
		}
		job.Limit = &n
	}

	return job, nil
}

// Load reads and validates a YAML job-configuration file at path.
func Load(path string) (App, error) {
	if _, err := os.Stat(path); err != nil {
		return App{}, fmt.Errorf("config: file not found: %w", err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return App{}, fmt.Errorf("config: resolve base dir: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return App{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return App{}, fmt.Errorf("config: parse YAML: %w", err)
	}
	if doc == nil {
		return App{}, fmt.Errorf("config: file must be a YAML mapping")
	}

	interpolated, err := interpolateRecursive(doc)
	if err != nil {
		return App{}, err
	}
	data, ok := interpolated.(map[string]any)
	if !ok {
		return App{}, fmt.Errorf("config: file must be a YAML mapping")
	}

	if _, ok := data["credentials"]; ok {
		return App{}, fmt.Errorf(
			"config: credentials must not be stored in the config file; " +
				"set SATFETCH_KEY/SATFETCH_SECRET environment variables instead")
	}

	app := App{Logging: Logging{Level: "INFO"}}

	if raw, ok := data["logging"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return App{}, fmt.Errorf("config: logging must be a mapping")
		}
		if level, ok := m["level"]; ok {
			app.Logging.Level = fmt.Sprint(level)
		}
		if file, ok := m["file"]; ok {
			app.Logging.File = fmt.Sprint(file)
		}
	}

	if raw, ok := data["jobs"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return App{}, fmt.Errorf("config: 'jobs' must be a list")
		}
		for _, jobRaw := range list {
			m, ok := jobRaw.(map[string]any)
			if !ok {
				return App{}, fmt.Errorf("config: each job must be a mapping")
			}
			job, err := parseJob(m, baseDir)
			if err != nil {
				return App{}, err
			}
			app.Jobs = append(app.Jobs, job)
		}
	}

	if len(app.Jobs) == 0 {
		return App{}, fmt.Errorf("config: must contain at least one job")
	}

	return app, nil
}
