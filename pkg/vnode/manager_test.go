package vnode

import (
	"testing"
	"time"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMigrator lets tests script a migration's data pulls and terminal
// outcome without a real wire protocol.
type fakeMigrator struct {
	runs chan migrationRun
}

type migrationRun struct {
	target string
	vnode  uint64
	cnc    chan<- Cmd
}

func newFakeMigrator() *fakeMigrator {
	return &fakeMigrator{runs: make(chan migrationRun, 16)}
}

func (f *fakeMigrator) Run(target string, vnode uint64, cnc chan<- Cmd) {
	f.runs <- migrationRun{target: target, vnode: vnode, cnc: cnc}
}

func (f *fakeMigrator) awaitRun(t *testing.T) migrationRun {
	t.Helper()
	select {
	case r := <-f.runs:
		return r
	case <-time.After(time.Second):
		t.Fatal("migrator was never invoked")
		return migrationRun{}
	}
}

func newTestManager(t *testing.T, migrator MigrationRunner) (*Manager, chan Task) {
	t.Helper()
	m := NewManager("node-a", migrator, zerolog.Nop())
	tasks := make(chan Task, 16)
	done := make(chan struct{})
	go func() { m.Run(tasks); close(done) }()
	t.Cleanup(func() {
		close(tasks)
		<-done
	})
	return m, tasks
}

func TestAssignCreatesVNodesOwnedByThisNode(t *testing.T) {
	m, tasks := newTestManager(t, newFakeMigrator())
	tasks <- AssignTask{VNodes: []uint64{1, 2, 3}}
	tasks <- AssignTask{VNodes: nil} // processed after the first; assigns nothing
	time.Sleep(20 * time.Millisecond)

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	for _, id := range []uint64{1, 2, 3} {
		assert.Equal(t, []string{"node-a"}, snap[id].Data)
		assert.Nil(t, snap[id].Migration)
	}
}

func TestAssignDroppingAlreadyPresentVNode(t *testing.T) {
	m, tasks := newTestManager(t, newFakeMigrator())
	tasks <- AssignTask{VNodes: []uint64{1}}
	tasks <- AssignTask{VNodes: []uint64{1, 2}}
	time.Sleep(20 * time.Millisecond)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []string{"node-a"}, snap[1].Data)
}

func TestMigrateOutRunsFullCycleAndDropsLocalVNode(t *testing.T) {
	migrator := newFakeMigrator()
	m, tasks := newTestManager(t, migrator)
	tasks <- AssignTask{VNodes: []uint64{4}}
	tasks <- MigrateOutTask{Target: "node-b", VNode: 4}

	run := migrator.awaitRun(t)
	assert.Equal(t, "node-b", run.target)
	assert.Equal(t, uint64(4), run.vnode)

	reply := make(chan MigrationDataReply, 1)
	run.cnc <- GetMigrationDataCmd{VNode: 4, Chunk: 0, Reply: reply}
	got := <-reply
	assert.Equal(t, []string{"node-a"}, got.Data)

	run.cnc <- GetMigrationDataCmd{VNode: 4, Chunk: 1, Reply: reply}
	got = <-reply
	assert.Empty(t, got.Data)

	run.cnc <- FinishMigrationCmd{VNode: 4}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, m.Snapshot())
}

func TestMigrateOutCancelRequeuesIndefinitely(t *testing.T) {
	migrator := newFakeMigrator()
	m, tasks := newTestManager(t, migrator)
	tasks <- AssignTask{VNodes: []uint64{7}}
	tasks <- MigrateOutTask{Target: "node-b", VNode: 7}

	run := migrator.awaitRun(t)
	run.cnc <- CancelMigrationCmd{VNode: 7, Target: "node-b"}

	retry := migrator.awaitRun(t)
	assert.Equal(t, "node-b", retry.target)
	assert.Equal(t, uint64(7), retry.vnode)

	snap := m.Snapshot()
	require.Contains(t, snap, uint64(7))
	assert.Equal(t, ids.Outbound, snap[7].Migration.Direction)
}

func TestMigrateInLifecycle(t *testing.T) {
	m, tasks := newTestManager(t, newFakeMigrator())
	tasks <- MigrateInStartTask{VNode: 9, Src: "node-b"}
	tasks <- MigrateInTask{VNode: 9, Chunk: 0, Data: []string{"node-b"}}
	tasks <- MigrateInEndTask{VNode: 9}
	time.Sleep(20 * time.Millisecond)

	snap := m.Snapshot()
	require.Contains(t, snap, uint64(9))
	assert.Nil(t, snap[9].Migration)
	assert.Equal(t, []string{"node-b", "node-a"}, snap[9].Data)
}

func TestMigrateInOutOfOrderChunkIsDropped(t *testing.T) {
	m, tasks := newTestManager(t, newFakeMigrator())
	tasks <- MigrateInStartTask{VNode: 9, Src: "node-b"}
	tasks <- MigrateInTask{VNode: 9, Chunk: 1, Data: []string{"oops"}}
	tasks <- MigrateInTask{VNode: 9, Chunk: 0, Data: []string{"node-b"}}
	time.Sleep(20 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, []string{"node-b"}, snap[9].Data)
	assert.Equal(t, uint64(1), snap[9].Migration.Chunk)
}
