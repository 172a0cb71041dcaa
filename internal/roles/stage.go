package roles

// Stage names the step of the fallback chain that produced a role.
type Stage string

const (
	StageCache           Stage = "cache"
	StageAssignment      Stage = "role_assignment"
	StageCollectorRecord Stage = "collector_record"
	StageMemberRecord    Stage = "member_record"
	// StageDefault marks the safe default; it is never an authoritative match.
	StageDefault Stage = "default"
)

// ResultKind tags a stage result so that falling through and failing can
// never be confused.
type ResultKind int

const (
	// Absent is an authoritative empty answer; the chain moves on.
	Absent ResultKind = iota
	// Found carries a role; the chain stops.
	Found
	// TransportError means the source could not answer; the chain aborts.
	TransportError
)

func (k ResultKind) String() string {
	switch k {
	case Found:
		return "found"
	case TransportError:
		return "transport_error"
	default:
		return "absent"
	}
}

// StageResult is the explicit outcome of one lookup stage.
type StageResult struct {
	Kind ResultKind
	Role Role
	Err  error
}

func found(r Role) StageResult { return StageResult{Kind: Found, Role: r} }
func absent() StageResult { return StageResult{Kind: Absent} }
func failed(err error) StageResult { return StageResult{Kind: TransportError, Err: err} }
