// Package contextmgr implements the Context Manager of spec.md §4.6:
// adaptive assembly of the per-task prompt window using a hybrid
// summarize+recent+on-demand policy, degrading gracefully against a hard
// token ceiling.
package contextmgr

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// foundationPhaseSize is the "|H| <= 3" threshold of spec.md §4.6 step 2.
	foundationPhaseSize = 3
	// steadyStateFullTail is how many of the most recent verified tasks get
	// full context once past the foundation phase (spec.md §4.6 step 3).
	steadyStateFullTail = 2
	// DefaultCeiling is the hard token ceiling of spec.md §4.6.
	DefaultCeiling = 128_000
	// approxCharsPerToken is the heuristic used to turn a context string
	// into a token estimate, in the spirit of the teacher's
	// internal/llm.TokenStats estimate.
	approxCharsPerToken = 4
)

// TaskContext is the full rendering of one task for prompt inclusion:
// identifier, title, embedded specification excerpt, active test plan (as
// a structured document), and a reference to the latest attempt's
// evidence summary.
type TaskContext struct {
	ID                    string
	Title                 string
	SpecExcerpt           string
	ActivePlanDocument    string // rendered structured document
	LatestEvidenceSummary string
}

// EstimatedTokens is a cheap, conservative token-count heuristic.
func (t TaskContext) EstimatedTokens() int {
	return (len(t.SpecExcerpt) + len(t.ActivePlanDocument) + len(t.LatestEvidenceSummary) + len(t.Title)) / approxCharsPerToken
}

// Provider resolves task context on demand, decoupling the Context
// Manager from the Task Store's concrete type.
type Provider interface {
	FullContext(taskID string) (TaskContext, error)
	OneLineSummary(taskID string) (string, error)
}

// historicalIDPattern matches T\d{3} and common natural-language variants
// ("like in T002", "see task T002") per spec.md §4.6 step 4.
var historicalIDPattern = regexp.MustCompile(`\bT\d{3,}\b`)

// Assembled is the result of Assemble: the rendered prompt text plus
// bookkeeping useful to callers and tests.
type Assembled struct {
	Text            string
	EstimatedTokens int
	Phase           string // "foundation" | "steady-state"
	OnDemandTaskID  string // non-empty if an on-demand splice occurred
	Degraded        bool   // true if the ceiling forced a degrade step
}

// Assemble builds the prompt for the task about to begin, per the
// algorithm of spec.md §4.6.
//
//  1. verifiedHistory = tasks already verified in the current sprint, in
//     order.
//  2. |H| <= 3: full context for every task in H, then current.
//  3. otherwise: one-line summary for H[0..|H|-3], full context for the
//     last two, then current.
//  4. inspect lastAssistantMessage for a historical T\d{3} identifier; if
//     it lies in the summarized prefix, splice its full context in once.
//
// If any inclusion would push the estimate past ceiling, degrade from
// step 2 to step 3, then progressively drop older full-context entries
// from step 3, then drop the on-demand injection.
func Assemble(verifiedHistory []string, current TaskContext, lastAssistantMessage string, provider Provider, ceiling int) (*Assembled, error) {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}

	phase := "foundation"
	var fullIDs []string
	var summaryIDs []string

	if len(verifiedHistory) <= foundationPhaseSize {
		fullIDs = append(fullIDs, verifiedHistory...)
	} else {
		phase = "steady-state"
		cut := len(verifiedHistory) - steadyStateFullTail
		summaryIDs = verifiedHistory[:cut]
		fullIDs = verifiedHistory[cut:]
	}

	onDemandID := detectHistoricalReference(lastAssistantMessage, summaryIDs)

	degraded := false
	for {
		text, tokens, err := render(fullIDs, summaryIDs, current, onDemandID, provider)
		if err != nil {
			return nil, err
		}
		if tokens <= ceiling {
			return &Assembled{Text: text, EstimatedTokens: tokens, Phase: phase, OnDemandTaskID: onDemandID, Degraded: degraded}, nil
		}

		degraded = true
		switch {
		case phase == "foundation":
			// Degrade foundation -> steady-state shape.
			phase = "steady-state"
			if len(fullIDs) > steadyStateFullTail {
				cut := len(fullIDs) - steadyStateFullTail
				summaryIDs = append(fullIDs[:cut], summaryIDs...)
				fullIDs = fullIDs[cut:]
			}
		case len(fullIDs) > 0:
			// Drop the oldest full-context entry.
			summaryIDs = append([]string{fullIDs[0]}, summaryIDs...)
			fullIDs = fullIDs[1:]
		case onDemandID != "":
			onDemandID = ""
		default:
			// Nothing left to drop; return what we have even if over
			// ceiling rather than loop forever.
			return &Assembled{Text: text, EstimatedTokens: tokens, Phase: phase, OnDemandTaskID: onDemandID, Degraded: degraded}, nil
		}
	}
}

func detectHistoricalReference(lastMessage string, summaryIDs []string) string {
	if lastMessage == "" {
		return ""
	}
	match := historicalIDPattern.FindString(lastMessage)
	if match == "" {
		return ""
	}
	for _, id := range summaryIDs {
		if id == match {
			return match
		}
	}
	return ""
}

func render(fullIDs, summaryIDs []string, current TaskContext, onDemandID string, provider Provider) (string, int, error) {
	var b strings.Builder
	total := 0

	for _, id := range summaryIDs {
		line, err := provider.OneLineSummary(id)
		if err != nil {
			return "", 0, fmt.Errorf("contextmgr: summary for %s: %w", id, err)
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
		total += len(line) / approxCharsPerToken
	}

	if onDemandID != "" {
		tc, err := provider.FullContext(onDemandID)
		if err != nil {
			return "", 0, fmt.Errorf("contextmgr: on-demand context for %s: %w", onDemandID, err)
		}
		b.WriteString("\n## On-demand: ")
		b.WriteString(onDemandID)
		b.WriteString("\n")
		writeFull(&b, tc)
		total += tc.EstimatedTokens()
	}

	for _, id := range fullIDs {
		tc, err := provider.FullContext(id)
		if err != nil {
			return "", 0, fmt.Errorf("contextmgr: full context for %s: %w", id, err)
		}
		b.WriteString("\n## ")
		b.WriteString(id)
		b.WriteString("\n")
		writeFull(&b, tc)
		total += tc.EstimatedTokens()
	}

	b.WriteString("\n## Current: ")
	b.WriteString(current.ID)
	b.WriteString("\n")
	writeFull(&b, current)
	total += current.EstimatedTokens()

	return b.String(), total, nil
}

func writeFull(b *strings.Builder, tc TaskContext) {
	b.WriteString(tc.Title)
	b.WriteString("\n")
	b.WriteString(tc.SpecExcerpt)
	b.WriteString("\n")
	if tc.ActivePlanDocument != "" {
		b.WriteString(tc.ActivePlanDocument)
		b.WriteString("\n")
	}
	if tc.LatestEvidenceSummary != "" {
		b.WriteString(tc.LatestEvidenceSummary)
		b.WriteString("\n")
	}
}
