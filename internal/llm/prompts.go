// Package llm provides LLM clients (Ollama, OpenAI, Anthropic) used as an
// entity extraction capability, together with a strict JSON-only prompt and
// a tolerant response parser.
package llm

import "fmt"

// ExtractionSystemPrompt is sent as the system message with EntitySpanPrompt.
const ExtractionSystemPrompt = "You extract named entities from questions about movies. " +
	"You answer with a single JSON object and nothing else."

// EntitySpanCategories are the categories the extraction prompt allows.
var EntitySpanCategories = []string{"WORK_OF_ART", "ORG", "EVENT", "PERSON", "GPE"}

// EntitySpanPrompt generates a strict JSON-only prompt that asks for the
// named entities mentioned in a question about films.
func EntitySpanPrompt(question string) string {
	return fmt.Sprintf(`TASK: Extract named entities from a question about movies.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. NO ARRAY - MUST BE OBJECT.

CATEGORIES (ONLY these 5):
- WORK_OF_ART: Title of a movie, book, series or song
- ORG: Studio, company or other organization
- EVENT: Festival, award ceremony or other named event
- PERSON: Individual human
- GPE: Country, city or region

RULES:
1. Copy each entity text exactly as written in the question
2. Do not include question words or words like director, writer, released
3. List entities in the order they appear
4. If there are none, return {"entities":[]}

QUESTION:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"entities":[{"text":"X","category":"WORK_OF_ART"}]}`, question)
}
