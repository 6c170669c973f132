// Package testutil provides testing utilities for the reconflow application
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockCommandRunner implements runner.CommandRunner for testing
type MockCommandRunner struct {
	mu        sync.RWMutex
	commands  []ExecutedCommand
	responses map[string]CommandResponse
	handlers  map[string]CommandHandler
}

type ExecutedCommand struct {
	Command string
	Args    []string
	Context context.Context
}

type CommandResponse struct {
	Lines []string
	Error error
	Delay time.Duration
}

// CommandHandler computes a response from the arguments of a call. Useful
// when an argument is not known up front, such as a temporary file path.
type CommandHandler func(args []string) CommandResponse

func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		responses: make(map[string]CommandResponse),
		handlers:  make(map[string]CommandHandler),
	}
}

func (m *MockCommandRunner) Run(ctx context.Context, command string, args []string) ([]string, error) {
	m.mu.Lock()
	m.commands = append(m.commands, ExecutedCommand{
		Command: command,
		Args:    append([]string(nil), args...),
		Context: ctx,
	})
	m.mu.Unlock()

	key := command + " " + strings.Join(args, " ")

	m.mu.RLock()
	response, exists := m.responses[key]
	handler, hasHandler := m.handlers[command]
	m.mu.RUnlock()

	if !exists && hasHandler {
		response, exists = handler(args), true
	}
	if !exists {
		return nil, nil
	}

	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-ctx.Done():
			return nil, nil
		}
	}
	return append([]string(nil), response.Lines...), response.Error
}

func (m *MockCommandRunner) SetResponse(command string, args []string, response CommandResponse) {
	key := command + " " + strings.Join(args, " ")
	m.mu.Lock()
	m.responses[key] = response
	m.mu.Unlock()
}

// SetHandler answers every call to command that has no exact response.
func (m *MockCommandRunner) SetHandler(command string, handler CommandHandler) {
	m.mu.Lock()
	m.handlers[command] = handler
	m.mu.Unlock()
}

func (m *MockCommandRunner) GetExecutedCommands() []ExecutedCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	commands := make([]ExecutedCommand, len(m.commands))
	copy(commands, m.commands)
	return commands
}

// CommandsFor returns the recorded calls of a single command.
func (m *MockCommandRunner) CommandsFor(command string) []ExecutedCommand {
	var out []ExecutedCommand
	for _, c := range m.GetExecutedCommands() {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// CreateTestFile creates a test file with the given content
func CreateTestFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file %s: %v", filePath, err)
	}

	return filePath
}

// WithTimeout creates a context with timeout for tests
func WithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
