package relay

// State is the lifecycle state of a Loop. A Loop only ever moves forward:
// Idle → Resolving → Connecting → Streaming → Terminated | Failed.
type State int32

const (
	Idle State = iota
	Resolving
	Connecting
	Streaming
	Terminated
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether s is a final state
func (s State) Done() bool {
	return s == Terminated || s == Failed
}

// Stats summarises what a Loop has done so far
type Stats struct {
	// StartOffset is the resolved source offset the run started at
	StartOffset int64

	// CurrentOffset is the next source offset the loop expects
	CurrentOffset int64

	// Consumed counts source records read, emitted or skipped
	Consumed int64

	// Emitted counts records appended to the sink
	Emitted int64

	// Skipped counts source records that produced no sink record, by reason
	SkippedDecode    int64
	SkippedFilter    int64
	SkippedTransform int64

	// AppendFailures counts failed append attempts, including retried ones
	AppendFailures int64

	// Lost counts emitted payloads dropped under AdvanceOnFailure
	Lost int64

	// LastPosition is the source offset of the last record written to the sink, -1 if none
	LastPosition int64
}

// Skipped returns the total number of skipped records
func (s Stats) Skipped() int64 {
	return s.SkippedDecode + s.SkippedFilter + s.SkippedTransform
}
