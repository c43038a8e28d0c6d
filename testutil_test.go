package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// TestHelper provides utilities for tests
type TestHelper struct {
	t       *testing.T
	tempDir string
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTempDir creates a temporary directory for testing
func (h *TestHelper) CreateTempDir() string {
	tempDir, err := os.MkdirTemp("", "llm-consortium-test-*")
	if err != nil {
		h.t.Fatalf("Failed to create temp dir: %v", err)
	}
	h.tempDir = tempDir
	return tempDir
}

// Cleanup removes the temporary directory
func (h *TestHelper) Cleanup() {
	if h.tempDir != "" {
		os.RemoveAll(h.tempDir)
	}
}

// OverrideDataDir points conversation and settings storage at the temp
// directory for the duration of the test.
func (h *TestHelper) OverrideDataDir() {
	if h.tempDir == "" {
		h.CreateTempDir()
	}
	oldDataDir := DataDir
	oldSettingsPath := SettingsPath
	DataDir = filepath.Join(h.tempDir, "conversations")
	SettingsPath = filepath.Join(h.tempDir, "settings.json")
	h.t.Cleanup(func() {
		DataDir = oldDataDir
		SettingsPath = oldSettingsPath
	})
}

// WriteJSONFile writes JSON data to a file in the temp directory
func (h *TestHelper) WriteJSONFile(filename string, data interface{}) string {
	if h.tempDir == "" {
		h.CreateTempDir()
	}

	path := filepath.Join(h.tempDir, filename)
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		h.t.Fatalf("Failed to marshal JSON: %v", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		h.t.Fatalf("Failed to write file: %v", err)
	}

	return path
}

// AssertEqual checks if two values are equal
func (h *TestHelper) AssertEqual(got, want interface{}, message string) {
	if got != want {
		h.t.Errorf("%s: got %v, want %v", message, got, want)
	}
}

// AssertNoError checks if an error is nil
func (h *TestHelper) AssertNoError(err error, message string) {
	if err != nil {
		h.t.Errorf("%s: unexpected error: %v", message, err)
	}
}

// AssertError checks if an error is not nil
func (h *TestHelper) AssertError(err error, message string) {
	if err == nil {
		h.t.Errorf("%s: expected error, got nil", message)
	}
}

// fakeCall records one call made against the fake gateway.
type fakeCall struct {
	Model   string
	Role    string
	Prompt  string
	History []GatewayMessage
}

// fakeGateway is a scriptable Gateway for orchestrator and handler tests.
// The respond function decides each call's outcome; calls are recorded.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(model, role, prompt string) (string, error)
}

func (f *fakeGateway) Call(ctx context.Context, model, role, prompt string, history []GatewayMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Model: model, Role: role, Prompt: prompt, History: history})
	f.mu.Unlock()
	return f.respond(model, role, prompt)
}

// Calls returns a snapshot of the recorded calls.
func (f *fakeGateway) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

// CallsFor returns the recorded calls made to one model.
func (f *fakeGateway) CallsFor(model string) []fakeCall {
	var out []fakeCall
	for _, call := range f.Calls() {
		if call.Model == model {
			out = append(out, call)
		}
	}
	return out
}

// councilRoles is a standard three-member council with a chairman.
func councilRoles() []RoleBinding {
	return []RoleBinding{
		{Model: "test/alpha", Role: RoleMember},
		{Model: "test/beta", Role: RoleMember},
		{Model: "test/gamma", Role: RoleMember},
		{Model: "test/chair", Role: RoleChairman},
	}
}

// sequentialRoles is a standard three-step relay.
func sequentialRoles() []RoleBinding {
	return []RoleBinding{
		{Model: "test/alpha", Role: "step-1"},
		{Model: "test/beta", Role: "step-2"},
		{Model: "test/gamma", Role: "step-3"},
	}
}

// testTime returns a fixed time for testing
func testTime() time.Time {
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func float64Ptr(v float64) *float64 {
	return &v
}
