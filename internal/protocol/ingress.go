package protocol

import "fmt"

// StatsLen is the length of every statistics array: mean, max, iqr, kurtosis.
const StatsLen = 4

// StateChangeEvent is one relay transition reported by a module.
type StateChangeEvent struct {
	State     bool  `json:"state"`
	Timestamp int64 `json:"timestamp"`
}

// ModuleReading is one module's summary for the report period.
type ModuleReading struct {
	ModuleID      string             `json:"module_id"`
	SampleCount   int                `json:"sample_count"`
	MeanVoltage   float64            `json:"mean_voltage"`
	MeanFrequency float64            `json:"mean_frequency"`
	ApparentPower []float64          `json:"apparent_power"`
	PowerFactor   []float64          `json:"power_factor"`
	KWhUsage      float64            `json:"kwh_usage"`
	StateChanges  []StateChangeEvent `json:"state_changes"`
}

// ReadingReport is a control unit's telemetry for one period.
// Timestamps are Unix seconds.
type ReadingReport struct {
	PeriodStart int64           `json:"period_start"`
	PeriodEnd   int64           `json:"period_end"`
	Data        []ModuleReading `json:"data"`
}

// Kind implements Ingress.
func (ReadingReport) Kind() Kind { return KindReading }

// SetupRequest registers a unit's modules. SetupToken is an application
// token identifying the owning user.
type SetupRequest struct {
	SetupToken string   `json:"setup_token"`
	ModuleIDs  []string `json:"module_ids"`
}

// Kind implements Ingress.
func (SetupRequest) Kind() Kind { return KindSetup }

// Validate checks the request carries a token and at least one module.
func (s SetupRequest) Validate() error {
	if s.SetupToken == "" {
		return fmt.Errorf("%w: setup_token is required", ErrInvalidMessage)
	}
	if len(s.ModuleIDs) == 0 {
		return fmt.Errorf("%w: module_ids is empty", ErrInvalidMessage)
	}
	for i, id := range s.ModuleIDs {
		if id == "" {
			return fmt.Errorf("%w: module_ids[%d] is empty", ErrInvalidMessage, i)
		}
	}
	return nil
}

// UpdateRequest asks the gateway to resend the unit's configuration.
type UpdateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Kind implements Ingress.
func (UpdateRequest) Kind() Kind { return KindUpdate }
