package ai

import "github.com/sashabaranov/go-openai/jsonschema"

const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 300
	titleTemperature   = 0.3
	titleMaxTokens     = 32
)

const metadataSystemPrompt = `You are a document analysis assistant. Analyze the provided document content and extract structured metadata.

TITLE REQUIREMENTS:
- Generate a clear, descriptive title (max 200 characters)
- Capture the main topic or purpose of the document
- Make it specific and informative

DESCRIPTION REQUIREMENTS:
- Write 2-3 sentences describing what the document is about
- Focus on the document's purpose and scope
- Keep it concise but informative

SUMMARY REQUIREMENTS:
- Length: 120-150 words maximum
- Use **bold** for key topics or important terms
- Use bullet points or numbered lists when listing multiple items
- Use headers (##) if the summary has distinct sections
- Keep paragraphs short and scannable
- Focus on main topics, key findings, and conclusions

Remember: Be accurate, concise, and well-structured.`

const titleSystemPrompt = "You generate short, readable chat titles. " +
	"Return 4-7 words, sentence case, no quotes, no trailing punctuation. " +
	"Avoid names, dates, or sensitive identifiers unless essential."

func metadataSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"title":       {Type: jsonschema.String, Description: "Clear, descriptive document title, at most 200 characters"},
			"description": {Type: jsonschema.String, Description: "Two or three sentences on purpose and scope"},
			"summary":     {Type: jsonschema.String, Description: "Markdown summary of 120 to 150 words"},
		},
		Required:             []string{"title", "description", "summary"},
		AdditionalProperties: false,
	}
}
