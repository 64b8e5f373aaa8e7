package harness

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`

	// Results holds each scenario's result keyed by scenario name.
	Results map[string]*Result `json:"-"`
}

// SuiteFailure is one scenario that failed to load, run or pass.
type SuiteFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// FindScenarios lists the .yaml and .yml files under dir whose base name
// matches filter (a filepath.Match pattern; empty matches everything).
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// RunSuite loads and runs every scenario file in paths.
// A scenario that fails to load or run counts as failed; the suite goes on.
func RunSuite(paths []string) *SuiteResult {
	suite := &SuiteResult{Results: make(map[string]*Result)}

	for _, path := range paths {
		suite.Total++
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(name, path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		name = scenario.Name

		result, err := Run(scenario)
		if err != nil {
			suite.fail(name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		suite.Results[name] = result

		if !result.Pass {
			suite.fail(name, path, result.Errors...)
			continue
		}
		suite.Passed++
	}

	return suite
}

func (s *SuiteResult) fail(name, path string, errs ...string) {
	s.Failed++
	s.Failures = append(s.Failures, SuiteFailure{Scenario: name, Path: path, Errors: errs})
}
