package llm

import (
	"fmt"
	"strings"
)

// InternalSentinel prefixes every prompt mnemos sends, so session hooks can
// recognize and ignore sessions spawned by the engine itself.
const InternalSentinel = "[mnemos-internal]"

const systemPrompt = "You are the memory subsystem of a personal AI assistant. Be precise and terse. Never invent facts that are not in the input."

// ClassificationPrompt asks for a gate, sensitivity and entity tags for one fact.
func ClassificationPrompt(text, context string) string {
	ctxBlock := "(none)"
	if strings.TrimSpace(context) != "" {
		ctxBlock = context
	}
	return fmt.Sprintf(`%s
Classify the FACT below for long-term memory storage.

CONVERSATION CONTEXT:
%s

FACT:
%s

Gates:
- behavioral: how the user habitually acts or prefers things ("prefers dark mode", "always writes tests first")
- relational: facts about another person or the user's relationship to them ("Dana is my manager")
- epistemic: a stated fact about the world, a project or a system ("the API runs on port 8080")
- promissory: a commitment, plan or tentative intention ("I'll send the report Friday", "might try Rust")
- correction: corrects or retracts something said earlier ("actually the meeting is Tuesday")

Sensitivity:
- safe: nothing personal or confidential
- sensitive: personal details, health, finances, relationships, internal business information
- critical: credentials, secrets, government ids, payment data

Return ONLY a JSON object, no other text:
{"gate": "...", "confidence": 0.0-1.0, "sensitivity": "...", "person": "name or empty", "project": "name or empty"}`,
		InternalSentinel, ctxBlock, text)
}

// ConsolidationPrompt asks for a digest of one owner's journal week.
func ConsolidationPrompt(week string, entries []string) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	return fmt.Sprintf(`%s
Summarize the journal entries from week %s into a single digest.

ENTRIES:
%s
Rules:
- Maximum 200 words
- Keep decisions, commitments, outcomes and names of people and projects
- Drop small talk and repetition
- Plain prose, no headings, no preamble

Return only the digest text.`, InternalSentinel, week, b.String())
}

// IdentityPrompt asks for a summary card built from evidence memories.
// previous is the current card, or empty on first synthesis.
func IdentityPrompt(person, project, previous string, facts []string) string {
	subject := "the user"
	if person != "" {
		subject = person
	}
	scope := ""
	if project != "" {
		scope = fmt.Sprintf(" in the context of project %s", project)
	}
	prev := "This is the first card for this scope."
	if previous != "" {
		prev = "PREVIOUS CARD:\n" + previous
	}

	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	return fmt.Sprintf(`%s
Write an identity card describing %s%s: how they work, communicate and relate to others.

%s

EVIDENCE:
%s
Rules:
- Maximum 250 words
- Use only the evidence above; the previous card is context, not evidence
- Prefer recent and repeated signals over one-offs
- No file paths, function names or secrets

Return only the card text.`, InternalSentinel, subject, scope, prev, b.String())
}

// ExtractionPrompt asks for durable facts worth remembering from a condensed session transcript.
func ExtractionPrompt(condensed string) string {
	return fmt.Sprintf(`%s
Read the session transcript below and extract at most 3 facts worth remembering in future sessions.

TRANSCRIPT:
%s

Gates: behavioral, relational, epistemic, promissory, correction (same meanings as classification).

Rules:
- Only durable facts: preferences, decisions, commitments, facts about people and projects
- One sentence per fact, written in the third person ("The user prefers ...")
- Skip anything already obvious from the code or the task itself
- Never include credentials or secrets
- Return [] if nothing qualifies

Return ONLY a JSON array, no other text:
[{"content": "...", "gate": "...", "person": "name or empty", "project": "name or empty"}]`,
		InternalSentinel, condensed)
}

// CompressionPrompt asks for a short observation distilled from one tool call.
func CompressionPrompt(tool, input, output string) string {
	return fmt.Sprintf(`%s
Compress the tool output below into one concise observation.

TOOL: %s
INPUT: %s
OUTPUT:
%s

Keep file paths, line numbers, function names, error messages, counts, versions and the outcome.
Drop repeated listings, boilerplate, decorative formatting and full file contents.
Plain text, no markdown. Start directly with the observation.`,
		InternalSentinel, tool, input, output)
}
