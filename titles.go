package main

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"
)

const maxTitleLength = 50

// GenerateConversationTitle asks a fast model to summarize the first user
// message into a short conversation title. Errors are non-fatal; the caller
// keeps the placeholder title.
func GenerateConversationTitle(ctx context.Context, gw Gateway, firstMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TitleGenTimeout)
	defer cancel()

	prompt := BuildTitlePrompt(firstMessage)
	raw, err := gw.Call(ctx, TitleModel, "", prompt, nil)
	if err != nil {
		return "", err
	}

	title := cleanTitle(raw)
	if title == "" {
		title = fallbackTitle(firstMessage)
	}
	return title, nil
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'")
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	return truncateTitle(title)
}

func fallbackTitle(message string) string {
	return truncateTitle(strings.TrimSpace(message))
}

func truncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleLength-1])) + "…"
}

// generateTitleInBackground runs title generation off the request path and
// persists the result when it arrives.
func generateTitleInBackground(conversationID, firstMessage string) {
	title, err := GenerateConversationTitle(context.Background(), gateway, firstMessage)
	if err != nil {
		log.Printf("Title generation failed for %s: %v", conversationID, err)
		return
	}
	if err := UpdateConversationTitle(conversationID, title); err != nil {
		log.Printf("Failed to save title for %s: %v", conversationID, err)
	}
}
