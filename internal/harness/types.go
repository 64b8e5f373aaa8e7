package harness

// Step outcome cases. Any other case is a core error kind, e.g. "CAP_EXCEEDED".
const (
	CaseOK    = "ok"
	CaseError = "error" // a failure that is not a domain error
)

// TraceEvent is one entry of the engine's event log.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Flow    string         `json:"flow"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// StepResult records what one flow step returned.
type StepResult struct {
	Action string         `json:"action"`
	Case   string         `json:"case"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step matched its expect clause and every assertion held.
	Pass bool `json:"pass"`

	// Trace is the full event log at the end of the flow, in seq order.
	Trace []TraceEvent `json:"trace"`

	// Steps has one entry per flow step.
	Steps []StepResult `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a flow step outcome.
func (r *Result) AddStep(s StepResult) {
	r.Steps = append(r.Steps, s)
}
