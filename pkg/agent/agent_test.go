// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/task"
	"github.com/kadirpekel/ensemble/pkg/tools"
	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// scriptedProvider serves one queued response per call.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   [][]llms.Message
}

func (p *scriptedProvider) next(messages []llms.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, messages)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", errors.New("no scripted response left")
	}
	response := p.responses[0]
	p.responses = p.responses[1:]
	return response, nil
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, opts *llms.Options) (string, int, error) {
	response, err := p.next(messages)
	return response, len(response) / 4, err
}

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, messages []llms.Message, opts *llms.Options) (<-chan llms.StreamChunk, error) {
	response, err := p.next(messages)
	if err != nil {
		return nil, err
	}
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Type: llms.ChunkText, Text: response}
	ch <- llms.StreamChunk{Type: llms.ChunkDone, Tokens: len(response) / 4}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ModelName() string { return "test-model" }
func (p *scriptedProvider) Close() error      { return nil }

var _ llms.Provider = (*scriptedProvider)(nil)

func newTestMemory(t *testing.T) *memory.Manager {
	t.Helper()
	cfg := &config.MemoryConfig{}
	cfg.SetDefaults()
	return memory.NewManager(cfg, memory.NewMemoryStore())
}

func newTestRegistry(t *testing.T, mgr *memory.Manager) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg, mgr, &config.ToolsConfig{}))
	return reg
}

func TestSelectExplicitAssignment(t *testing.T) {
	m := NewManager(&scriptedProvider{}, nil, nil)
	got := m.Select(&task.Task{Content: "anything", AssignedSubAgent: "code-agent"})
	assert.Equal(t, "code-agent", got.Name)
}

func TestSelectKeywordRouting(t *testing.T) {
	m := NewManager(&scriptedProvider{}, nil, nil)

	tests := []struct {
		content string
		want    string
	}{
		{"research the history of Go", "research-agent"},
		{"investigate the outage", "research-agent"},
		{"debug the login function", "code-agent"},
		{"program a parser", "code-agent"},
		{"compute statistics for Q3", "data-agent"},
		{"calculate the totals", "data-agent"},
		{"draft a report for the board", "content-agent"},
		{"greet the user politely", "general-purpose"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got := m.Select(&task.Task{Content: tt.content})
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestSelectUnknownAssignmentFallsBackToKeywords(t *testing.T) {
	m := NewManager(&scriptedProvider{}, nil, nil)
	got := m.Select(&task.Task{Content: "debug the parser", AssignedSubAgent: "nonexistent"})
	assert.Equal(t, "code-agent", got.Name)
}

func TestAllowed(t *testing.T) {
	general := &SubAgent{ToolAllowList: []string{AllowAll}}
	assert.True(t, general.Allowed("anything"))

	scoped := &SubAgent{ToolAllowList: []string{"read_file", "calculate"}}
	assert.True(t, scoped.Allowed("calculate"))
	assert.False(t, scoped.Allowed("write_file"))

	none := &SubAgent{}
	assert.False(t, none.Allowed("calculate"))
}

func TestWithProfiles(t *testing.T) {
	m := NewManager(&scriptedProvider{}, nil, nil, WithProfiles([]config.AgentConfig{
		{
			Name:         "code-agent",
			SystemPrompt: "You review Go exclusively.",
			AllowedTools: []string{"read_file"},
		},
		{
			Name:        "legal-agent",
			Description: "Reviews contracts",
			Keywords:    []string{"contract"},
		},
	}))

	code, ok := m.Get("code-agent")
	require.True(t, ok)
	assert.Equal(t, "You review Go exclusively.", code.SystemPrompt)
	assert.Equal(t, []string{"read_file"}, code.ToolAllowList)

	got := m.Select(&task.Task{Content: "review this contract"})
	assert.Equal(t, "legal-agent", got.Name)
}

func TestExecuteStructuredResult(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"success": true, "result": "The summary is ready", "explanation": "read and condensed", "nextSteps": ["publish"]}`,
	}}
	m := NewManager(provider, newTestMemory(t), nil)

	sess := session.New("s1", "alice", "summarise")
	tk := task.New("summarise the notes")
	result, err := m.Execute(context.Background(), tk, sess, vfs.New())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "The summary is ready", result.Result)
	assert.Equal(t, []string{"publish"}, result.NextSteps)
	assert.NotEmpty(t, result.SubAgent)

	runs := sess.SubAgentResults()
	require.Len(t, runs, 1)
	assert.Equal(t, tk.ID, runs[0].TaskID)

	stats := m.Stats(result.SubAgent)
	assert.Equal(t, int64(1), stats.TasksExecuted)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestExecuteToolCallRound(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"toolCalls": [{"name": "calculate", "params": {"expression": "15+27*2"}}]}`,
		`{"success": true, "result": "The total is 69"}`,
	}}
	mgr := newTestMemory(t)
	m := NewManager(provider, mgr, newTestRegistry(t, mgr))

	sess := session.New("s1", "alice", "compute")
	tk := task.New("calculate the project totals")
	result, err := m.Execute(context.Background(), tk, sess, vfs.New())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"calculate"}, result.ToolsUsed)

	// The second round saw the tool result.
	require.Len(t, provider.prompts, 2)
	feedback := provider.prompts[1][len(provider.prompts[1])-1].Content
	assert.Contains(t, feedback, "69")
}

// contextRecorder is a tool that notes, at each call, whether the previous
// call's context has been released yet.
type contextRecorder struct {
	mu       sync.Mutex
	contexts []context.Context
	prevErrs []error
}

func (r *contextRecorder) Definition() tools.Definition {
	return tools.Definition{
		Name:        "observe",
		Description: "records execution contexts",
		Parameters:  map[string]any{"type": "object"},
	}
}

func (r *contextRecorder) Execute(ctx context.Context, _ map[string]any, _ *tools.ToolContext) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.contexts); n > 0 {
		r.prevErrs = append(r.prevErrs, r.contexts[n-1].Err())
	}
	r.contexts = append(r.contexts, ctx)
	return "ok", nil
}

func TestToolTimeoutReleasedPerCall(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"toolCalls": [{"name": "observe", "params": {}}, {"name": "observe", "params": {}}]}`,
		`{"success": true, "result": "done"}`,
	}}
	recorder := &contextRecorder{}
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(recorder))
	m := NewManager(provider, nil, reg, WithToolTimeout(time.Minute))

	sess := session.New("s1", "alice", "observe")
	result, err := m.Execute(context.Background(), task.New("observe the run"), sess, vfs.New())
	require.NoError(t, err)
	assert.True(t, result.Success)

	// The first call's deadline context is released as soon as the call
	// returns, before the second call starts.
	require.Len(t, recorder.contexts, 2)
	require.Len(t, recorder.prevErrs, 1)
	assert.ErrorIs(t, recorder.prevErrs[0], context.Canceled)
}

func TestExecuteRejectsToolOutsideAllowList(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"toolCalls": [{"name": "calculate", "params": {"expression": "1+1"}}]}`,
		`{"success": true, "result": "done without the tool"}`,
	}}
	mgr := newTestMemory(t)
	m := NewManager(provider, mgr, newTestRegistry(t, mgr))

	sub, ok := m.Get("content-agent") // no calculate in its allow-list
	require.True(t, ok)

	sess := session.New("s1", "alice", "write")
	result, err := m.ExecuteWith(context.Background(), sub, task.New("write the intro"), sess, vfs.New())
	require.NoError(t, err)

	assert.Empty(t, result.ToolsUsed)
	require.NotEmpty(t, result.Issues)
	assert.Contains(t, result.Issues[0], "not permitted")
}

func TestExecuteNonConformingOutput(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		"Sure! I finished the task, everything went great.",
	}}
	m := NewManager(provider, nil, nil)

	sess := session.New("s1", "alice", "do it")
	result, err := m.Execute(context.Background(), task.New("do the thing"), sess, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Sure! I finished the task, everything went great.", result.Result)
	assert.Contains(t, result.Issues, "non-conforming output")
}

func TestExecutePropagatesLLMError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	m := NewManager(provider, nil, nil)

	sess := session.New("s1", "alice", "do it")
	_, err := m.Execute(context.Background(), task.New("do the thing"), sess, nil)
	require.Error(t, err)

	// The failure still counts against the agent's statistics.
	stats := m.Stats("general-purpose")
	assert.Equal(t, int64(1), stats.TasksExecuted)
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestExecutePromptCarriesContextAndFiles(t *testing.T) {
	mgr := newTestMemory(t)
	ctx := context.Background()
	_, err := mgr.AddUserPreference(ctx, memory.Preference{
		UserID: "alice", Category: "style", Key: "tone",
		Content: "Prefers formal tone", Importance: 0.7, Confidence: 0.9,
	})
	require.NoError(t, err)

	provider := &scriptedProvider{responses: []string{`{"success": true, "result": "ok"}`}}
	m := NewManager(provider, mgr, newTestRegistry(t, mgr))

	fs := vfs.New()
	require.NoError(t, fs.Write("brief.txt", []byte("the brief")))

	sess := session.New("s1", "alice", "write")
	result, err := m.Execute(ctx, task.New("write the tone guide"), sess, fs)
	require.NoError(t, err)
	assert.NotEmpty(t, result.MemoryAccessed)

	require.Len(t, provider.prompts, 1)
	system := provider.prompts[0][0].Content
	user := provider.prompts[0][1].Content
	assert.Contains(t, system, "write_file")
	assert.NotContains(t, system, "calculate") // outside content-agent's allow-list
	assert.Contains(t, user, "Prefers formal tone")
	assert.Contains(t, user, "brief.txt")
}

func TestStatsConcurrentUpdates(t *testing.T) {
	m := NewManager(&scriptedProvider{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			m.recordExecution("general-purpose", 10*time.Millisecond, success)
		}(i%2 == 0)
	}
	wg.Wait()

	stats := m.Stats("general-purpose")
	assert.Equal(t, int64(50), stats.TasksExecuted)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.01)
	assert.Equal(t, 10*time.Millisecond, stats.AvgExecutionTime)
}

func TestSummaries(t *testing.T) {
	m := NewManager(&scriptedProvider{}, nil, nil)
	infos := m.Summaries()
	require.Len(t, infos, 5)
	assert.Equal(t, "general-purpose", infos[0].Name)
	for _, info := range infos {
		assert.NotEmpty(t, info.Description)
	}
}
