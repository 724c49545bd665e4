package migrate

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/vnode"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// runManager starts m.Run on its own goroutine and returns the task
// channel feeding it; the channel is closed at test cleanup.
func runManager(t *testing.T, m *vnode.Manager) chan<- vnode.Task {
	t.Helper()
	tasks := make(chan vnode.Task, 16)
	done := make(chan struct{})
	go func() { m.Run(tasks); close(done) }()
	t.Cleanup(func() {
		close(tasks)
		<-done
	})
	return tasks
}

func awaitVNodeAbsent(t *testing.T, m *vnode.Manager, id uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Snapshot()[id]; !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("vnode %d still present after deadline", id)
}

func awaitVNodePresent(t *testing.T, m *vnode.Manager, id uint64) ids.VNode {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := m.Snapshot()[id]; ok && v.Migration == nil {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("vnode %d never settled", id)
	panic("unreachable")
}

// TestMigrationEndToEnd: a vnode starts on node A with data [A]; after
// MigrateOut to B completes, A no longer has it and B has it with data
// [A, B] — B's ownership stamp follows A's original content.
func TestMigrationEndToEnd(t *testing.T) {
	destTasksCh := make(chan vnode.Task, 16)
	server := NewServer(destTasksCh, zerolog.Nop())
	ts := httptest.NewServer(server)
	defer ts.Close()
	target := strings.TrimPrefix(ts.URL, "http://")

	managerB := vnode.NewManager("node-b", noopMigrator{}, zerolog.Nop())
	doneB := make(chan struct{})
	go func() { managerB.Run(destTasksCh); close(doneB) }()
	defer func() {
		close(destTasksCh)
		<-doneB
	}()

	runner := NewRunner("node-a", DefaultDialer, zerolog.Nop())
	managerA := vnode.NewManager("node-a", runner, zerolog.Nop())
	tasksA := runManager(t, managerA)

	tasksA <- vnode.AssignTask{VNodes: []uint64{4}}
	tasksA <- vnode.MigrateOutTask{Target: target, VNode: 4}

	awaitVNodeAbsent(t, managerA, 4)
	vb := awaitVNodePresent(t, managerB, 4)
	assert.Equal(t, []string{"node-a", "node-b"}, vb.Data)
}

// noopMigrator never runs; managerB never initiates outbound migrations
// in this test.
type noopMigrator struct{}

func (noopMigrator) Run(string, uint64, chan<- vnode.Cmd) {}
