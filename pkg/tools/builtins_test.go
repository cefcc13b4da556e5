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

package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/task"
	"github.com/kadirpekel/ensemble/pkg/vfs"
)

func testToolContext() *ToolContext {
	return &ToolContext{
		Session: session.New("", "alice", "do something"),
		FS:      vfs.New(),
		UserID:  "alice",
	}
}

func TestCalculate(t *testing.T) {
	tool := NewCalculateTool()

	tests := []struct {
		expression string
		want       float64
	}{
		{"15+27*2", 69},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"-3+5", 2},
		{"2^10", 1024},
		{"2^3^2", 512}, // right-associative
		{"10 % 3", 1},
		{"  1.5 * 2 ", 3},
		{"-(2+3)", -5},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), map[string]any{"expression": tt.expression}, nil)
			require.NoError(t, err)
			m, ok := result.(map[string]any)
			require.True(t, ok)
			assert.InDelta(t, tt.want, m["result"], 1e-9)
		})
	}
}

func TestCalculateErrors(t *testing.T) {
	tool := NewCalculateTool()

	for _, expression := range []string{
		"",
		"1/0",
		"4 % 0",
		"2+*3",
		"(1+2",
		"1 2",
		"hello",
	} {
		t.Run(expression, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), map[string]any{"expression": expression}, nil)
			assert.Error(t, err)
		})
	}
}

func TestWriteTodosReplace(t *testing.T) {
	tool := NewWriteTodosTool()
	tctx := testToolContext()

	result, err := tool.Execute(context.Background(), map[string]any{
		"todos": []any{
			map[string]any{"content": "research the topic", "priority": "high"},
			map[string]any{"content": "write the summary"},
		},
	}, tctx)
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, 2, m["count"])
	require.Len(t, tctx.Session.Todos, 2)
	assert.Equal(t, task.PriorityHigh, tctx.Session.Todos[0].Priority)
	assert.Equal(t, task.StatusPending, tctx.Session.Todos[0].Status)
	assert.NotEmpty(t, tctx.Session.Todos[0].ID)

	// A second replace discards the first list.
	_, err = tool.Execute(context.Background(), map[string]any{
		"todos": []any{map[string]any{"content": "start over"}},
	}, tctx)
	require.NoError(t, err)
	require.Len(t, tctx.Session.Todos, 1)
	assert.Equal(t, "start over", tctx.Session.Todos[0].Content)
}

func TestWriteTodosMerge(t *testing.T) {
	tool := NewWriteTodosTool()
	tctx := testToolContext()

	existing := task.New("draft the report")
	require.NoError(t, existing.Transition(task.StatusInProgress))
	tctx.Session.Todos = []*task.Task{existing}

	result, err := tool.Execute(context.Background(), map[string]any{
		"merge": true,
		"todos": []any{
			map[string]any{"id": existing.ID, "content": "draft the report", "status": "completed"},
			map[string]any{"content": "review the draft"},
		},
	}, tctx)
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, 2, m["count"])
	assert.Equal(t, 1, m["completed"])
	assert.Equal(t, task.StatusCompleted, existing.Status)
	assert.Equal(t, "review the draft", tctx.Session.Todos[1].Content)
}

func TestWriteTodosMergeRejectsInvalidTransition(t *testing.T) {
	tool := NewWriteTodosTool()
	tctx := testToolContext()

	pending := task.New("not started yet")
	tctx.Session.Todos = []*task.Task{pending}

	// pending cannot jump straight to completed
	_, err := tool.Execute(context.Background(), map[string]any{
		"merge": true,
		"todos": []any{
			map[string]any{"id": pending.ID, "content": "not started yet", "status": "completed"},
		},
	}, tctx)
	require.Error(t, err)
	assert.Equal(t, task.StatusPending, pending.Status)
}

func TestWriteTodosRejectsBadPayload(t *testing.T) {
	tool := NewWriteTodosTool()
	tctx := testToolContext()

	_, err := tool.Execute(context.Background(), map[string]any{}, tctx)
	assert.Error(t, err)

	_, err = tool.Execute(context.Background(), map[string]any{"todos": "not a list"}, tctx)
	assert.Error(t, err)

	_, err = tool.Execute(context.Background(), map[string]any{
		"todos": []any{map[string]any{"priority": "high"}},
	}, tctx)
	assert.Error(t, err)
}

func TestSearchMemoryTool(t *testing.T) {
	cfg := &config.MemoryConfig{}
	cfg.SetDefaults()
	mgr := memory.NewManager(cfg, memory.NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddLongTerm(ctx, &memory.Memory{
		UserID:     "alice",
		Content:    "Alice prefers metric units in every report",
		Importance: 0.8,
	})
	require.NoError(t, err)
	_, err = mgr.AddLongTerm(ctx, &memory.Memory{
		UserID:     "bob",
		Content:    "Bob prefers metric units too",
		Importance: 0.8,
	})
	require.NoError(t, err)

	tool := NewSearchMemoryTool(mgr)
	result, err := tool.Execute(ctx, map[string]any{"query": "metric units"}, testToolContext())
	require.NoError(t, err)

	m := result.(map[string]any)
	results := m["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Contains(t, results[0]["content"], "Alice")

	_, err = tool.Execute(ctx, map[string]any{"query": "   "}, testToolContext())
	assert.Error(t, err)

	_, err = tool.Execute(ctx, map[string]any{"query": "anything"}, &ToolContext{})
	assert.Error(t, err)
}

func TestFileTools(t *testing.T) {
	tctx := testToolContext()
	write := NewWriteFileTool()
	read := NewReadFileTool()
	list := NewListFilesTool()
	ctx := context.Background()

	_, err := write.Execute(ctx, map[string]any{"path": "notes/draft.md", "content": "# Draft"}, tctx)
	require.NoError(t, err)

	result, err := read.Execute(ctx, map[string]any{"path": "notes/draft.md"}, tctx)
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, "# Draft", m["content"])

	result, err = list.Execute(ctx, nil, tctx)
	require.NoError(t, err)
	files := result.(map[string]any)["files"].([]map[string]any)
	require.Len(t, files, 1)
	assert.Equal(t, "notes/draft.md", files[0]["path"])

	_, err = read.Execute(ctx, map[string]any{"path": "missing.txt"}, tctx)
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	_, err = write.Execute(ctx, map[string]any{"path": "../escape.txt", "content": "x"}, tctx)
	assert.ErrorIs(t, err, vfs.ErrInvalidPath)

	_, err = read.Execute(ctx, map[string]any{"path": "anything"}, &ToolContext{})
	assert.Error(t, err)
}

func TestExtractDocumentXLSX(t *testing.T) {
	book := excelize.NewFile()
	require.NoError(t, book.SetCellValue("Sheet1", "A1", "Region"))
	require.NoError(t, book.SetCellValue("Sheet1", "B1", "Revenue"))
	require.NoError(t, book.SetCellValue("Sheet1", "A2", "EMEA"))
	require.NoError(t, book.SetCellValue("Sheet1", "B2", 1200))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	tctx := testToolContext()
	require.NoError(t, tctx.FS.Write("report.xlsx", buf.Bytes()))

	tool := NewExtractDocumentTool("")
	result, err := tool.Execute(context.Background(), map[string]any{"path": "report.xlsx"}, tctx)
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, "xlsx", m["format"])
	content := m["content"].(string)
	assert.True(t, strings.Contains(content, "Sheet1"))
	assert.Contains(t, content, "A1: Region")
	assert.Contains(t, content, "B2: 1200")
}

func TestExtractDocumentErrors(t *testing.T) {
	tool := NewExtractDocumentTool("")
	tctx := testToolContext()
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]any{"path": "missing.pdf"}, tctx)
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	require.NoError(t, tctx.FS.Write("data.csv", []byte("a,b\n1,2")))
	_, err = tool.Execute(ctx, map[string]any{"path": "data.csv"}, tctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractor")

	require.NoError(t, tctx.FS.Write("broken.pdf", []byte("not a pdf")))
	_, err = tool.Execute(ctx, map[string]any{"path": "broken.pdf"}, tctx)
	assert.Error(t, err)
}

func TestRegisterBuiltins(t *testing.T) {
	cfg := &config.MemoryConfig{}
	cfg.SetDefaults()
	mgr := memory.NewManager(cfg, memory.NewMemoryStore())

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, mgr, &config.ToolsConfig{}))

	for _, name := range []string{
		"calculate", "write_todos", "search_memory",
		"read_file", "write_file", "list_files", "extract_document",
	} {
		assert.True(t, r.Has(name), name)
	}
}
