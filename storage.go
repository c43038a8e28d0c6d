package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// EnsureDataDir ensures the conversation directory exists.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir, 0755)
}

// GetConversationPath returns the file path for a conversation.
func GetConversationPath(conversationID string) string {
	return filepath.Join(DataDir, conversationID+".json")
}

// CreateConversation creates and persists a new empty conversation.
func CreateConversation(conversationID string) (*Conversation, error) {
	if err := EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conversation := &Conversation{
		ID:        conversationID,
		CreatedAt: time.Now().UTC(),
		Title:     "New Conversation",
		Turns:     []Turn{},
	}

	if err := SaveConversation(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetConversation loads a conversation by ID. Returns nil without error if
// the conversation doesn't exist.
func GetConversation(conversationID string) (*Conversation, error) {
	path := GetConversationPath(conversationID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conversation Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("failed to parse conversation JSON: %w", err)
	}
	return &conversation, nil
}

// SaveConversation writes a conversation to disk. The write goes to a
// temp file first and is renamed into place, so a concurrent reader only
// ever sees a complete snapshot.
func SaveConversation(conversation *Conversation) error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	path := GetConversationPath(conversation.ID)
	return atomicWriteFile(path, data)
}

// atomicWriteFile replaces path with data via a temp file and rename.
func atomicWriteFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation's file. Deleting a missing
// conversation succeeds: the operation is idempotent.
func DeleteConversation(conversationID string) error {
	err := os.Remove(GetConversationPath(conversationID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ListConversations lists all conversations, metadata only, newest first.
// Silently skips invalid or unreadable files.
func ListConversations() ([]ConversationMetadata, error) {
	if err := EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	// Initialize with empty slice to avoid null in JSON.
	conversations := make([]ConversationMetadata, 0)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(DataDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			continue
		}

		conversations = append(conversations, ConversationMetadata{
			ID:        conv.ID,
			CreatedAt: conv.CreatedAt,
			Title:     conv.Title,
			TurnCount: len(conv.Turns),
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})
	return conversations, nil
}

// AppendTurn appends a completed (or failed) turn to a conversation and
// saves it. Turns are append-only; a stored turn is never edited.
func AppendTurn(conversationID string, turn *Turn) error {
	conversation, err := GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	conversation.Turns = append(conversation.Turns, *turn)
	return SaveConversation(conversation)
}

// UpdateConversationTitle updates the title of a conversation.
func UpdateConversationTitle(conversationID string, title string) error {
	conversation, err := GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	conversation.Title = title
	return SaveConversation(conversation)
}
