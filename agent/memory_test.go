package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/plankton/llm"
)

func TestWindowMemoryEvictsOldestPair(t *testing.T) {
	m := NewWindowMemory(2)
	m.Append("q1", "a1")
	m.Append("q2", "a2")
	m.Append("q3", "a3")

	require.Equal(t, 2, m.Len())
	rendered := m.Render()
	require.Len(t, rendered, 4)
	assert.Equal(t, "q2", rendered[0].Content)
	assert.Equal(t, "a2", rendered[1].Content)
	assert.Equal(t, "q3", rendered[2].Content)
	assert.Equal(t, "a3", rendered[3].Content)
}

func TestWindowMemoryRenderOrder(t *testing.T) {
	m := NewWindowMemory(3)
	m.Append("first", "one")
	m.Append("second", "two")

	rendered := m.Render()
	require.Len(t, rendered, 4)
	assert.Equal(t, llm.RoleUser, rendered[0].Role)
	assert.Equal(t, llm.RoleAssistant, rendered[1].Role)
	assert.Equal(t, "first", rendered[0].Content)
	assert.Equal(t, "two", rendered[3].Content)
}

func TestWindowMemoryDefaultWindow(t *testing.T) {
	m := NewWindowMemory(0)
	for i := 0; i < 10; i++ {
		m.Append("q", "a")
	}
	assert.Equal(t, 3, m.Len())
}

func TestSessionRegistryEvictsIdleSessions(t *testing.T) {
	r := NewSessionRegistry(3, 20*time.Millisecond, nil)
	defer r.Close()

	r.Get("chat-1").Append("q", "a")
	require.Equal(t, 1, r.Len())

	require.Eventually(t, func() bool { return r.Len() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestSessionRegistryCloseStopsEviction(t *testing.T) {
	r := NewSessionRegistry(3, 20*time.Millisecond, nil)
	r.Close()
	r.Close() // 幂等

	// 等回收协程退出后再建会话，过期也不再被回收
	time.Sleep(40 * time.Millisecond)
	r.Get("chat-1")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistryIsolatesSessions(t *testing.T) {
	r := NewSessionRegistry(3, time.Minute, nil)
	defer r.Close()

	a := r.Get("chat-1")
	b := r.Get("chat-2")
	a.Append("question a", "answer a")

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
	assert.Same(t, a, r.Get("chat-1"))
	assert.Equal(t, 2, r.Len())
}
