package app

import (
	"fmt"
	"strings"

	"chathub/pkg/domain"
)

const (
	summarySystemPrompt = "You are an AI assistant helping to summarize chat conversations."
	replySystemPrompt   = "You are a helpful AI assistant in a Discord-like chat application. You're having a direct conversation with a user."
)

// buildSummaryPrompt renders chronological messages as "Author: content"
// lines followed by the bullet-summary instruction.
func buildSummaryPrompt(scopeName string, messages []domain.Message) (string, string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Please analyze the following chat messages from the %q channel and provide a concise summary.\n\n", scopeName)
	sb.WriteString("Chat Messages:\n")
	for _, msg := range messages {
		sb.WriteString(msg.AuthorName())
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n")
	}
	sb.WriteString(`
Please provide a summary in 3-5 bullet points that captures:
- Main topics discussed
- Key decisions or conclusions
- Important information shared
- Any action items mentioned

Format your response as bullet points using • symbol. Keep it concise and professional.`)
	return summarySystemPrompt, sb.String()
}

// buildReplyPrompt renders a bot conversation history (chronological) and
// the user's latest message.
func buildReplyPrompt(history []domain.Message, latest string) (string, string) {
	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, msg := range history {
		speaker := "User"
		if msg.FromBot() {
			speaker = "AI"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nUser's latest message: %s\n", strings.TrimSpace(latest))
	sb.WriteString(`
Please respond in a helpful, friendly, and conversational manner. Keep your response concise but informative. You can:
- Answer questions
- Provide explanations
- Help with problems
- Have casual conversations
- Provide summaries if asked
- Give advice or suggestions

Respond naturally as if you're chatting with a friend.`)
	return replySystemPrompt, sb.String()
}

// reverseMessages turns a newest-first slice into chronological order in place.
func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
