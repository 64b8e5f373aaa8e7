package engine

import (
	"strconv"

	"github.com/google/uuid"
)

// FlowTokenGenerator issues the token that groups the events of one command.
// Tests inject testutil.SequentialFlowGenerator for byte-stable logs.
type FlowTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator issues time-ordered UUIDv7 tokens, so flows sort by the
// time their command was accepted. Stateless; safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics only if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// eventNamespace scopes event ids derived by EventID.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("packsale/event"))

// EventID derives the content-addressed id of the event at seq in flow.
// The same (flow, seq) always yields the same id, so audit can recompute it.
func EventID(flowToken string, seq int64) string {
	return uuid.NewSHA1(eventNamespace, []byte(flowToken+"/"+strconv.FormatInt(seq, 10))).String()
}
