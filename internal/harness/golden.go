package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/packsale/internal/canonical"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// TraceSnapshot captures the step outcomes and event log of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	FlowToken    string       `json:"flow_token,omitempty"`
	Steps        []StepResult `json:"steps"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to values canonical.Marshal accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		m := map[string]any{
			"action": step.Action,
			"case":   step.Case,
		}
		if step.Result != nil {
			m["result"] = step.Result
		}
		steps[i] = m
	}

	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		trace[i] = map[string]any{
			"seq":     event.Seq,
			"flow":    event.Flow,
			"kind":    event.Kind,
			"payload": event.Payload,
		}
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"trace":         trace,
	}
	if s.FlowToken != "" {
		out["flow_token"] = s.FlowToken
	}
	return out
}

// Snapshot renders result as canonical JSON for golden comparison.
// Error messages are left out; the step case carries the error kind.
func Snapshot(scenarioName, flowToken string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{
		ScenarioName: scenarioName,
		FlowToken:    flowToken,
		Steps:        result.Steps,
		Trace:        result.Trace,
	}
	return canonical.Marshal(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, scenario.FlowToken, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName, flowToken string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, flowToken, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
