package protocol

import (
	"fmt"
	"time"
)

// DeviceRule is forwarded to the device verbatim. Expressions and commands
// are never evaluated by the gateway.
type DeviceRule struct {
	ID         int64  `json:"id,omitempty"`
	Priority   int    `json:"priority"`
	Expression string `json:"expression"`
	Command    string `json:"command"`
}

// RuleUpdate applies an action to one module's rules, or to the unit when
// ModuleID is empty.
type RuleUpdate struct {
	ModuleID string       `json:"module_id,omitempty"`
	Action   Action       `json:"action"`
	Rules    []DeviceRule `json:"rules"`
}

// Validate checks the action and the fields each action depends on.
func (u RuleUpdate) Validate() error {
	if !u.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, u.Action)
	}
	if u.Rules == nil {
		return fmt.Errorf("%w: rule update for %q has no rule list", ErrInvalidMessage, u.ModuleID)
	}
	for i, r := range u.Rules {
		switch u.Action {
		case ActionExec:
			if r.Command == "" {
				return fmt.Errorf("%w: exec rule %d has no command", ErrInvalidMessage, i)
			}
		case ActionExecIf:
			if r.Command == "" || r.Expression == "" {
				return fmt.Errorf("%w: execif rule %d needs an expression and a command", ErrInvalidMessage, i)
			}
		}
	}
	return nil
}

// RuleSet is the unit-level rule message carrying per-module updates.
type RuleSet struct {
	Action Action       `json:"action"`
	Rules  []RuleUpdate `json:"rules"`
}

// Kind implements Body.
func (RuleSet) Kind() Kind { return KindRules }

// Validate implements Body.
func (s RuleSet) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, s.Action)
	}
	if s.Rules == nil {
		return fmt.Errorf("%w: rule set has no rule list", ErrInvalidMessage)
	}
	for _, u := range s.Rules {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Command is an operator-issued rule set, typically exec or execif.
type Command struct {
	RuleSet
}

// Kind implements Body.
func (Command) Kind() Kind { return KindCommand }

// ScheduleItem switches one module on or off starting at StartTimestamp,
// repeating every Period seconds RepeatCount times.
type ScheduleItem struct {
	ModuleID       string `json:"module_id"`
	State          bool   `json:"state"`
	StartTimestamp int64  `json:"start_timestamp"`
	Period         int64  `json:"period"`
	RepeatCount    int    `json:"repeat_count"`
}

// Schedule is a list of schedule items with an action.
type Schedule struct {
	Action Action         `json:"action"`
	Items  []ScheduleItem `json:"items"`
}

// Kind implements Body.
func (Schedule) Kind() Kind { return KindSchedule }

// Validate implements Body. Only append and replace apply to schedules.
func (s Schedule) Validate() error {
	if s.Action != ActionAppend && s.Action != ActionReplace {
		return fmt.Errorf("%w: schedules accept append or replace, got %q", ErrInvalidAction, s.Action)
	}
	if s.Items == nil {
		return fmt.Errorf("%w: schedule has no item list", ErrInvalidMessage)
	}
	for i, it := range s.Items {
		switch {
		case it.ModuleID == "":
			return fmt.Errorf("%w: schedule item %d has no module_id", ErrInvalidMessage, i)
		case it.StartTimestamp < 0:
			return fmt.Errorf("%w: schedule item %d has a negative start_timestamp", ErrInvalidMessage, i)
		case it.Period < 0 || it.RepeatCount < 0:
			return fmt.Errorf("%w: schedule item %d has a negative period or repeat_count", ErrInvalidMessage, i)
		case it.RepeatCount > 0 && it.Period == 0:
			return fmt.Errorf("%w: schedule item %d repeats with a zero period", ErrInvalidMessage, i)
		}
	}
	return nil
}

// maxUTCOffsetMinutes is the widest offset in use (UTC+14).
const maxUTCOffsetMinutes = 14 * 60

// Parameters are the operating parameters of a control unit.
type Parameters struct {
	// ReportInterval is the reading period in seconds.
	ReportInterval int `json:"report_interval"`
	// SamplePeriod is the sampling period in milliseconds.
	SamplePeriod     int     `json:"sample_period"`
	UTCOffsetMinutes int     `json:"utc_offset_minutes"`
	MaxPower         float64 `json:"max_power,omitempty"`
}

// Kind implements Body.
func (Parameters) Kind() Kind { return KindParameters }

// Validate implements Body.
func (p Parameters) Validate() error {
	switch {
	case p.ReportInterval <= 0:
		return fmt.Errorf("%w: report_interval must be positive", ErrInvalidMessage)
	case p.SamplePeriod <= 0:
		return fmt.Errorf("%w: sample_period must be positive", ErrInvalidMessage)
	case p.SamplePeriod > p.ReportInterval*1000:
		return fmt.Errorf("%w: sample_period exceeds report_interval", ErrInvalidMessage)
	case p.UTCOffsetMinutes < -maxUTCOffsetMinutes || p.UTCOffsetMinutes > maxUTCOffsetMinutes:
		return fmt.Errorf("%w: utc_offset_minutes out of range", ErrInvalidMessage)
	case p.MaxPower < 0:
		return fmt.Errorf("%w: max_power must not be negative", ErrInvalidMessage)
	}
	return nil
}

// Day-of-week substitutions for tariff holidays.
const (
	TreatAsSunday   = 1
	TreatAsSaturday = 7
)

// TariffHoliday makes a date use the weekend tariff of TreatAs.
type TariffHoliday struct {
	Day     int `json:"day"`
	Month   int `json:"month"`
	Year    int `json:"year"`
	TreatAs int `json:"treat_as"`
}

// TariffSchedule carries time-of-use tariff settings.
type TariffSchedule struct {
	Tariff   string          `json:"tariff"`
	Holidays []TariffHoliday `json:"holidays"`
}

// Kind implements Body.
func (TariffSchedule) Kind() Kind { return KindTOUSchedule }

// Validate implements Body.
func (s TariffSchedule) Validate() error {
	if s.Tariff == "" {
		return fmt.Errorf("%w: tariff is required", ErrInvalidMessage)
	}
	for i, h := range s.Holidays {
		d := time.Date(h.Year, time.Month(h.Month), h.Day, 0, 0, 0, 0, time.UTC)
		if d.Year() != h.Year || int(d.Month()) != h.Month || d.Day() != h.Day {
			return fmt.Errorf("%w: holiday %d is not a calendar date", ErrInvalidMessage, i)
		}
		if h.TreatAs != TreatAsSunday && h.TreatAs != TreatAsSaturday {
			return fmt.Errorf("%w: holiday %d treat_as must be 1 or 7", ErrInvalidMessage, i)
		}
	}
	return nil
}
