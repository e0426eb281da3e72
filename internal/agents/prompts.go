package agents

import (
	"fmt"
	"strings"
)

const plannerSystemPrompt = `You are the planning agent of a research team.

Split the research topic you are given into exactly %d distinct sections that together
form a well-structured report. Order them the way a reader should encounter them.

Respond with a JSON array of section titles and nothing else. No prose, no code fences.
Example: ["Market Overview", "Key Competitors", "Future Trends"]`

const researcherSystemPrompt = `You are the research agent of a research team and you can search the web.

For the sub-topic you are given, collect:
- key findings as concise bullet points
- concrete data: figures, dates, names
- the sources you relied on, listed at the end
- enough context for a writer who has not read the sources

Prefer recent, verifiable information. Say so when the evidence is thin or contested.`

const writerSystemPrompt = `You are the writing agent of a research team.

Turn the research notes you are given into one polished report section in Markdown.
Use a short heading, clear paragraphs and lists where they help. Stay faithful to the
notes and keep the section under roughly 300 words.`

const criticSystemPrompt = `You are the reviewing editor of a research team.

Judge the draft section you are given for clarity, accuracy, flow and completeness on a
scale of 1 to 10. A score of %d or more passes. When it fails, give specific, actionable
feedback the writer can apply.

Answer in exactly this format:
SCORE: <number>
VERDICT: <PASSED or FAILED>
FEEDBACK: <your feedback>`

const quickSystemPrompt = `You are a research assistant that answers quickly using web search.

Structure the answer as:
1. A brief summary of two or three sentences
2. Key facts as bullet points
3. Recent developments and relevant context
4. Sources

Keep it focused and cite what you found.`

func plannerPrompt(n int) string {
	return fmt.Sprintf(plannerSystemPrompt, n)
}

func criticPrompt(passingScore int) string {
	return fmt.Sprintf(criticSystemPrompt, passingScore)
}

func plannerUserPrompt(query string) string {
	return fmt.Sprintf("Research topic: %q", query)
}

func researcherUserPrompt(subtopic string) string {
	return fmt.Sprintf("Research the following sub-topic in depth: %q", subtopic)
}

func writerUserPrompt(section, notes, feedback string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the report section %q.\n\nResearch notes:\n%s", section, notes)
	if strings.TrimSpace(feedback) != "" {
		sb.WriteString("\n\nIMPORTANT: a previous draft of this section was rejected by the editor. Revise it to address this feedback:\n")
		sb.WriteString(feedback)
	}
	return sb.String()
}

func criticUserPrompt(draft string) string {
	return "Draft:\n" + draft
}

func quickUserPrompt(query string) string {
	return query
}
