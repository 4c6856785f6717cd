package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microcell/microcell/pkg/opsm"
)

// OperationTrace is the persisted per-operation structured log: the last
// rows of one operation's life cycle.
type OperationTrace struct {
	Operation string       `json:"operation"`
	Rows      []opsm.Event `json:"rows"`
}

// TraceLogger keeps a bounded structured trace per operation plus a ring of
// recently archived traces. One logger exists per engine category (planned,
// automatic operations, automatic transitions, SOP operations); its
// serialized form is persisted back into the state store under the stable
// logger keys so external tools can render it. Log writes never block the
// state machine: serialization failures drop the write.
type TraceLogger struct {
	rowLimit   int
	pastLimit  int
	current    map[string]*OperationTrace
	order      []string
	past       []OperationTrace
	aggregated []OperationTrace
}

// NewTraceLogger creates a logger keeping rowLimit rows per trace and
// pastLimit archived traces.
func NewTraceLogger(rowLimit, pastLimit int) *TraceLogger {
	if rowLimit <= 0 {
		rowLimit = 5
	}
	if pastLimit <= 0 {
		pastLimit = 4
	}
	return &TraceLogger{
		rowLimit:  rowLimit,
		pastLimit: pastLimit,
		current:   map[string]*OperationTrace{},
	}
}

// Record appends an event to its operation's trace. A terminal edge archives
// the trace so the next execution starts fresh.
func (l *TraceLogger) Record(ev opsm.Event) {
	tr, ok := l.current[ev.Operation]
	if !ok {
		tr = &OperationTrace{Operation: ev.Operation}
		l.current[ev.Operation] = tr
		l.order = append(l.order, ev.Operation)
	}
	tr.Rows = append(tr.Rows, ev)
	if len(tr.Rows) > l.rowLimit {
		tr.Rows = tr.Rows[len(tr.Rows)-l.rowLimit:]
	}
	if ev.To.IsTerminal() {
		l.archive(ev.Operation)
	}
}

func (l *TraceLogger) archive(operation string) {
	tr, ok := l.current[operation]
	if !ok {
		return
	}
	l.past = append(l.past, *tr)
	if len(l.past) > l.pastLimit {
		l.past = l.past[len(l.past)-l.pastLimit:]
	}
	l.aggregated = append(l.aggregated, *tr)
	delete(l.current, operation)
	for i, name := range l.order {
		if name == operation {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Traces returns the archived ring followed by the in-flight traces in
// first-seen order.
func (l *TraceLogger) Traces() []OperationTrace {
	out := append([]OperationTrace{}, l.past...)
	for _, name := range l.order {
		out = append(out, *l.current[name])
	}
	return out
}

// Serialize renders the ring as JSON for persistence into the state store.
func (l *TraceLogger) Serialize() (string, bool) {
	raw, err := json.Marshal(l.Traces())
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// SerializeAggregate renders every archived trace since startup; the SOP
// engine persists this under the aggregate logger key.
func (l *TraceLogger) SerializeAggregate() (string, bool) {
	raw, err := json.Marshal(l.aggregated)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// ParseTraces decodes a persisted logger value.
func ParseTraces(raw string) ([]OperationTrace, error) {
	var traces []OperationTrace
	if err := json.Unmarshal([]byte(raw), &traces); err != nil {
		return nil, err
	}
	return traces, nil
}

// FormatTraces renders traces as fixed-width terminal boxes, newest current
// trace last, the way the state CLI shows them.
func FormatTraces(traces []OperationTrace) string {
	const width = 54
	var b strings.Builder
	line := "+" + strings.Repeat("-", width) + "+\n"
	for i, tr := range traces {
		label := "Current"
		if i < len(traces)-1 {
			label = fmt.Sprintf("Past -%d", len(traces)-1-i)
		}
		b.WriteString(line)
		writeRow(&b, width, fmt.Sprintf("%s: %s", label, tr.Operation))
		writeRow(&b, width, strings.Repeat("-", 30))
		for _, row := range tr.Rows {
			ts := row.Timestamp.Format("15:04:05.000")
			writeRow(&b, width, fmt.Sprintf("[%s | %-9s] %s", ts, string(row.To), row.Narrative))
		}
		b.WriteString(line)
	}
	return b.String()
}

func writeRow(b *strings.Builder, width int, text string) {
	if len(text) > width-2 {
		text = text[:width-2]
	}
	fmt.Fprintf(b, "| %-*s |\n", width-2, text)
}
