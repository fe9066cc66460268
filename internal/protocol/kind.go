package protocol

// Kind tags every message exchanged with a control unit.
type Kind string

// Ingress kinds, sent by control units.
const (
	KindReading Kind = "reading"
	KindSetup   Kind = "setup"
	KindUpdate  Kind = "update"
)

// Egress kinds, sent to control units.
const (
	KindRules       Kind = "rules"
	KindSchedule    Kind = "schedule"
	KindParameters  Kind = "parameters"
	KindTOUSchedule Kind = "tou_schedule"
	KindCommand     Kind = "command"
)

// IsIngress reports whether k may arrive from a device.
func (k Kind) IsIngress() bool {
	switch k {
	case KindReading, KindSetup, KindUpdate:
		return true
	}
	return false
}

// IsEgress reports whether k may be sent to a device.
func (k Kind) IsEgress() bool {
	switch k {
	case KindRules, KindSchedule, KindParameters, KindTOUSchedule, KindCommand:
		return true
	}
	return false
}

// Action tells the device how to apply a rule or schedule update.
type Action string

const (
	// ActionAppend adds entries without removing existing ones.
	ActionAppend Action = "append"
	// ActionReplace discards existing entries first.
	ActionReplace Action = "replace"
	// ActionExec runs the command immediately without persisting it.
	ActionExec Action = "exec"
	// ActionExecIf runs the command only if its expression holds on the device.
	ActionExecIf Action = "execif"
)

// Valid reports whether a is one of the four defined actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAppend, ActionReplace, ActionExec, ActionExecIf:
		return true
	}
	return false
}
