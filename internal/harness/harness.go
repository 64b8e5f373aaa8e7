package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/packsale/internal/collectible"
	"github.com/roach88/packsale/internal/config"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/engine"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
	"github.com/roach88/packsale/internal/testutil"
)

// Harness drives one engine through a scenario.
// It runs with a manual wall clock and sequential flow tokens so identical
// scenarios produce identical event logs.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the catalog file and bootstrap an engine over it
// 2. Execute setup steps; any failure aborts the run
// 3. Execute flow steps, checking each against its expect clause
// 4. Read the event log and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := config.Load(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	o, err := cfg.NewOracle()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := testutil.Epoch
	if scenario.Start != "" {
		start, _ = time.Parse(time.RFC3339, scenario.Start)
	}
	clock := testutil.NewManualClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := engine.New(st, cat, o, signing.Recoverer{},
		engine.WithNow(clock.Now),
		engine.WithLedger(collectible.NewStored(st)),
		engine.WithFlowGenerator(testutil.NewSequentialFlowGenerator(scenario.FlowToken)),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{store: st, engine: eng, clock: clock, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Bootstrap(ctx); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.executeFlow(ctx, scenario.Flow, result)

	events, err := eng.Events(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	for _, ev := range events {
		payload, err := decodePayload(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		result.Trace = append(result.Trace, TraceEvent{Seq: ev.Seq, Flow: ev.FlowToken, Kind: ev.Kind, Payload: payload})
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeSetup runs all setup steps. Setup steps must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep) error {
	for i, step := range setup {
		if _, err := actions[step.Action](ctx, h, args(step.Args)); err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
		h.logger.Info("setup step completed", "step", i, "action", step.Action)
	}
	return nil
}

// executeFlow runs every flow step and records mismatches against the
// expect clauses. A step without an expect clause must succeed.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		out, err := actions[step.Invoke](ctx, h, args(step.Args))

		sr := StepResult{Action: step.Invoke, Case: CaseOK, Result: normalizeMap(out)}
		if err != nil {
			sr.Case = caseOf(err)
			sr.Result = nil
			sr.Error = err.Error()
		}
		result.AddStep(sr)

		want := CaseOK
		if step.Expect != nil {
			want = step.Expect.Case
		}
		if sr.Case != want {
			detail := ""
			if err != nil {
				detail = ": " + err.Error()
			}
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s%s", i, step.Invoke, want, sr.Case, detail))
			continue
		}
		if step.Expect != nil && step.Expect.Result != nil {
			for _, key := range sortedKeys(step.Expect.Result) {
				got, ok := sr.Result[key]
				if !ok {
					result.AddError(fmt.Sprintf("flow[%d] %s: result has no field %q", i, step.Invoke, key))
					continue
				}
				if !valuesEqual(got, normalize(step.Expect.Result[key])) {
					result.AddError(fmt.Sprintf("flow[%d] %s: result %q = %v, expected %v", i, step.Invoke, key, got, step.Expect.Result[key]))
				}
			}
		}
	}
}

// caseOf maps an error to its step case.
func caseOf(err error) string {
	if kind := core.KindOf(err); kind != "" {
		return string(kind)
	}
	return CaseError
}

// decodePayload decodes a canonical JSON payload keeping integers exact.
func decodePayload(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return normalizeMap(m), nil
}

// normalize converts decoded YAML and JSON values to int64, string, bool,
// []any and map[string]any so they compare with reflect.DeepEqual.
func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		return val.String()
	case int:
		return int64(val)
	case float64:
		if n, ok := toInt64(val); ok {
			return n
		}
		return val
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

// valuesEqual compares two normalized values.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(actual, expected)
}
