package pipeline

// State is the orchestrator's position within one frame cycle.
type State int32

const (
	Idle State = iota
	Rescaling
	Inferring
	Normalizing
	Compositing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Rescaling:
		return "rescaling"
	case Inferring:
		return "inferring"
	case Normalizing:
		return "normalizing"
	case Compositing:
		return "compositing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// stage names used in ProcessingError and stats.
const (
	StageRescale   = "rescale"
	StageInference = "inference"
	StageNormalize = "normalize"
	StageComposite = "composite"
	StageTotal     = "total"
)
