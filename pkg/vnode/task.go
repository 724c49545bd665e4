package vnode

// Task is the closed set of instructions the vnode manager accepts on its
// task stream. The set is fixed at build time, so it is modeled as a
// sealed interface rather than a tagged struct: each variant is a small
// value type and a type switch in the manager dispatches on it.
type Task interface{ isTask() }

// AssignTask gives this node ownership of vnodes it did not previously
// hold, with no migration involved (bootstrap or a placement decision that
// created brand-new vnodes).
type AssignTask struct {
	VNodes []uint64
}

// MigrateOutTask starts handing VNode off to Target. The manager spawns a
// migration task that drives the wire protocol and feeds the cnc stream.
type MigrateOutTask struct {
	Target string
	VNode  uint64
}

// MigrateInStartTask records that VNode is being received from Src. The
// vnode is created empty; MigrateIn tasks append to it as chunks arrive.
type MigrateInStartTask struct {
	VNode uint64
	Src   string
}

// MigrateInTask appends one chunk of incoming data to a vnode already
// started by MigrateInStartTask. Chunk is the expected next chunk index;
// a mismatch indicates messages arrived out of order and is dropped.
type MigrateInTask struct {
	VNode uint64
	Chunk uint64
	Data  []string
}

// MigrateInEndTask completes an inbound migration: the vnode's migration
// state clears and this node is appended to its ownership history.
type MigrateInEndTask struct {
	VNode uint64
}

func (AssignTask) isTask()         {}
func (MigrateOutTask) isTask()     {}
func (MigrateInStartTask) isTask() {}
func (MigrateInTask) isTask()      {}
func (MigrateInEndTask) isTask()   {}

// Cmd is the closed set of requests a running migration task issues back
// to the manager on the self-fed cnc stream.
type Cmd interface{ isCmd() }

// GetMigrationDataCmd asks for the chunk at the given cursor for an
// outbound migration. Reply receives one MigrationDataReply; an empty
// Data slice signals end of stream. If the vnode is not migrating
// outbound at that cursor, the command is dropped and no reply is sent.
type GetMigrationDataCmd struct {
	VNode uint64
	Chunk uint64
	Reply chan<- MigrationDataReply
}

// FinishMigrationCmd reports that an outbound migration completed
// successfully; the manager drops the vnode from its local set.
type FinishMigrationCmd struct {
	VNode uint64
}

// CancelMigrationCmd reports that an outbound migration failed. The
// manager clears the vnode's migration state and requeues a fresh
// MigrateOutTask to Target so the transfer is retried indefinitely; it
// does not check the direction of the cleared migration.
type CancelMigrationCmd struct {
	VNode  uint64
	Target string
}

func (GetMigrationDataCmd) isCmd() {}
func (FinishMigrationCmd) isCmd()  {}
func (CancelMigrationCmd) isCmd()  {}

// MigrationDataReply answers a GetMigrationDataCmd.
type MigrationDataReply struct {
	Chunk uint64
	Data  []string
}
