package app

import (
	"fmt"
	"strings"

	"docchat/internal/model"
)

// buildSystemPrompt describes the assistant, the user, the attached
// documents and the tool rules for one turn.
func buildSystemPrompt(attached []model.Document, profile model.Personalization, maxToolCalls int, libraryFallback bool) string {
	var b strings.Builder
	b.WriteString("You are a document-grounded assistant. You answer the user's questions using their uploaded documents and the conversation so far.\n")

	if profile.NickName != "" {
		fmt.Fprintf(&b, "Address the user as '%s' when it feels natural.\n", profile.NickName)
	}
	if profile.Occupation != "" {
		fmt.Fprintf(&b, "The user works as %s.\n", profile.Occupation)
	}
	if profile.StylePreferences != "" {
		fmt.Fprintf(&b, "Style preferences: %s.\n", strings.TrimRight(profile.StylePreferences, "."))
	}

	if len(attached) > 0 {
		b.WriteString("The following documents are attached to this conversation:\n")
		for i, doc := range attached {
			fmt.Fprintf(&b, "Document %d: %s", i+1, doc.Title)
			if doc.Description != nil && strings.TrimSpace(*doc.Description) != "" {
				fmt.Fprintf(&b, " - %s", strings.TrimSpace(*doc.Description))
			}
			fmt.Fprintf(&b, " (ID: %s, Type: %s, Created: %s)\n", doc.ID, doc.DocumentType, doc.CreatedAt.Format("2006-01-02"))
		}
		b.WriteString("Prioritize these documents. Call semantic_search before answering questions about them; searches are limited to them.\n")
	} else if libraryFallback {
		b.WriteString("No documents are attached. semantic_search covers all of the user's completed documents.\n")
	} else {
		b.WriteString("No documents are attached, so semantic_search will not find anything. Use list_documents or get_full_document if the user refers to a document.\n")
	}

	b.WriteString("Tool usage:\n")
	b.WriteString("- semantic_search takes 2 to 4 query variations; rephrasings and sub-questions improve recall.\n")
	b.WriteString("- list_documents shows the user's library (id, title, type, status). It does not attach documents.\n")
	b.WriteString("- get_full_document returns a whole document. Full documents use a lot of context, so prefer semantic_search.\n")
	fmt.Fprintf(&b, "- You may make at most %d tool calls in this turn. After that, answer with what you have.\n", maxToolCalls)

	b.WriteString("Response style:\n")
	b.WriteString("- Be concise but thorough, and cite the document a fact comes from.\n")
	b.WriteString("- If the documents do not contain the answer, say so. Do not make up information.\n")
	b.WriteString("- Do not generate harmful or offensive content, and keep the user's data confidential.")
	return b.String()
}
