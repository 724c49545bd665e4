package migrate

// MsgType tags a Msg/Ack variant. The set is closed: Start, Data, Finish.
type MsgType string

const (
	MsgStart  MsgType = "Start"
	MsgData   MsgType = "Data"
	MsgFinish MsgType = "Finish"
)

// Msg is a source-to-destination frame of the migration protocol.
type Msg struct {
	Type  MsgType  `json:"type"`
	Src   string   `json:"src,omitempty"`
	VNode uint64   `json:"vnode"`
	Chunk uint64   `json:"chunk,omitempty"`
	Data  []string `json:"data,omitempty"`
}

// Ack is a destination-to-source response. Every Msg is matched by
// structural equality against the Ack the source expects; any mismatch
// cancels the migration.
type Ack struct {
	Type  MsgType `json:"type"`
	VNode uint64  `json:"vnode,omitempty"`
	Chunk uint64  `json:"chunk,omitempty"`
}

// startAck is the Ack expected in reply to a Start Msg.
func startAck(vnode uint64) Ack { return Ack{Type: MsgStart, VNode: vnode} }

// dataAck is the Ack expected in reply to a Data Msg.
func dataAck(chunk uint64) Ack { return Ack{Type: MsgData, Chunk: chunk} }

// finishAck is the Ack expected in reply to a Finish Msg.
func finishAck(vnode uint64) Ack { return Ack{Type: MsgFinish, VNode: vnode} }
