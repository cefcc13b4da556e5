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

package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ensemble/pkg/task"
)

func TestNewAssignsID(t *testing.T) {
	s := New("", "alice", "do something")
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.StartTime.IsZero())

	pinned := New("sess-1", "alice", "again")
	assert.Equal(t, "sess-1", pinned.ID)
}

func TestRecordSubAgentRunConcurrent(t *testing.T) {
	s := New("", "alice", "req")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordSubAgentRun(SubAgentRun{TaskID: "t", AgentName: "code-agent"})
		}()
	}
	wg.Wait()

	runs := s.SubAgentResults()
	require.Len(t, runs, 20)
	for _, run := range runs {
		assert.False(t, run.Timestamp.IsZero())
	}
	assert.Equal(t, []string{"code-agent"}, s.SubAgentsUsed())
}

func TestSubAgentsUsedFirstUseOrder(t *testing.T) {
	s := New("", "alice", "req")
	s.RecordSubAgentRun(SubAgentRun{TaskID: "1", AgentName: "research-agent"})
	s.RecordSubAgentRun(SubAgentRun{TaskID: "2", AgentName: "code-agent"})
	s.RecordSubAgentRun(SubAgentRun{TaskID: "3", AgentName: "research-agent"})

	assert.Equal(t, []string{"research-agent", "code-agent"}, s.SubAgentsUsed())
}

func TestTodosCompleted(t *testing.T) {
	s := New("", "alice", "req")
	s.Todos = []*task.Task{
		{ID: "1", Status: task.StatusCompleted},
		{ID: "2", Status: task.StatusFailed},
		{ID: "3", Status: task.StatusCompleted},
	}
	assert.Equal(t, 2, s.TodosCompleted())
}

func TestInMemoryServiceAppendAndRead(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	for _, req := range []string{"first", "second", "third"} {
		err := svc.AppendTurn(ctx, &Turn{
			UserID:    "alice",
			SessionID: "s1",
			Request:   req,
			Response:  "ok",
			Success:   true,
		})
		require.NoError(t, err)
	}

	turns, err := svc.Turns(ctx, "alice", "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, int64(1), turns[0].SequenceNum)
	assert.Equal(t, "third", turns[2].Request)

	recent, err := svc.Turns(ctx, "alice", "s1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Request)

	n, err := svc.TurnCount(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInMemoryServiceSessionsIsolated(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	require.NoError(t, svc.AppendTurn(ctx, &Turn{UserID: "alice", SessionID: "s1", Request: "a"}))
	require.NoError(t, svc.AppendTurn(ctx, &Turn{UserID: "alice", SessionID: "s2", Request: "b"}))
	require.NoError(t, svc.AppendTurn(ctx, &Turn{UserID: "bob", SessionID: "s1", Request: "c"}))

	turns, err := svc.Turns(ctx, "alice", "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].Request)

	require.NoError(t, svc.DeleteSession(ctx, "alice", "s1"))
	n, err := svc.TurnCount(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.TurnCount(ctx, "bob", "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendTurnRequiresIdentity(t *testing.T) {
	svc := NewInMemoryService()
	assert.Error(t, svc.AppendTurn(context.Background(), &Turn{SessionID: "s1"}))
	assert.Error(t, svc.AppendTurn(context.Background(), &Turn{UserID: "alice"}))
}
