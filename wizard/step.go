package wizard

type Step int

const (
	StepPrompt Step = iota
	StepMode
	StepPermission
	StepSettings
	StepTest
	StepRecording
	StepReview
	StepSending
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepPrompt:
		return "prompt"
	case StepMode:
		return "mode"
	case StepPermission:
		return "permission"
	case StepSettings:
		return "settings"
	case StepTest:
		return "test"
	case StepRecording:
		return "recording"
	case StepReview:
		return "review"
	case StepSending:
		return "sending"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// Live reports whether the step keeps a device stream open.
func (s Step) Live() bool {
	return s == StepTest || s == StepSettings || s == StepRecording
}

type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "not requested"
	}
}

type SendingState int

const (
	SendingIdle SendingState = iota
	SendingInFlight
	SendingComplete
)

func (s SendingState) String() string {
	switch s {
	case SendingInFlight:
		return "in-flight"
	case SendingComplete:
		return "complete"
	default:
		return "idle"
	}
}
