package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEgress_WireShape(t *testing.T) {
	body := RuleSet{
		Action: ActionReplace,
		Rules: []RuleUpdate{{
			ModuleID: "m1",
			Action:   ActionReplace,
			Rules:    []DeviceRule{{ID: 7, Priority: 1, Expression: "soc < 20", Command: "off"}},
		}},
	}

	raw, err := EncodeEgress(body)
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg), "data must be a JSON string")
	assert.Equal(t, "rules", msg.Type)

	var inner RuleSet
	require.NoError(t, json.Unmarshal([]byte(msg.Data), &inner))
	assert.Equal(t, body, inner)
}

func TestEgressRoundTrip(t *testing.T) {
	bodies := []Body{
		&RuleSet{Action: ActionAppend, Rules: []RuleUpdate{{ModuleID: "m1", Action: ActionAppend, Rules: []DeviceRule{}}}},
		&Command{RuleSet: RuleSet{Action: ActionExec, Rules: []RuleUpdate{{ModuleID: "m2", Action: ActionExec, Rules: []DeviceRule{{Command: "relay on"}}}}}},
		&Schedule{Action: ActionReplace, Items: []ScheduleItem{{ModuleID: "m1", State: true, StartTimestamp: 1700000000, Period: 3600, RepeatCount: 24}}},
		&Parameters{ReportInterval: 300, SamplePeriod: 1000, UTCOffsetMinutes: 120},
		&TariffSchedule{Tariff: "megaflex", Holidays: []TariffHoliday{{Day: 25, Month: 12, Year: 2026, TreatAs: TreatAsSunday}}},
	}

	for _, body := range bodies {
		t.Run(string(body.Kind()), func(t *testing.T) {
			raw, err := EncodeEgress(body)
			require.NoError(t, err)

			got, err := DecodeEgress(raw)
			require.NoError(t, err)
			assert.Equal(t, body.Kind(), got.Kind())
			assert.Equal(t, body, got)
		})
	}
}

// inboundBody satisfies Body but carries an ingress kind.
type inboundBody struct{}

func (inboundBody) Kind() Kind      { return KindReading }
func (inboundBody) Validate() error { return nil }

func TestEncodeEgress_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body Body
		want error
	}{
		{name: "nil body", body: nil, want: ErrInvalidMessage},
		{name: "ingress kind", body: inboundBody{}, want: ErrUnknownKind},
		{name: "unknown action", body: RuleSet{Action: "delete", Rules: []RuleUpdate{}}, want: ErrInvalidAction},
		{name: "nil rule list", body: RuleSet{Action: ActionReplace}, want: ErrInvalidMessage},
		{name: "execif without expression", body: RuleSet{Action: ActionExecIf, Rules: []RuleUpdate{{Action: ActionExecIf, Rules: []DeviceRule{{Command: "on"}}}}}, want: ErrInvalidMessage},
		{name: "schedule exec", body: Schedule{Action: ActionExec, Items: []ScheduleItem{}}, want: ErrInvalidAction},
		{name: "schedule repeat without period", body: Schedule{Action: ActionAppend, Items: []ScheduleItem{{ModuleID: "m", RepeatCount: 2}}}, want: ErrInvalidMessage},
		{name: "parameters zero interval", body: Parameters{SamplePeriod: 10}, want: ErrInvalidMessage},
		{name: "parameters offset", body: Parameters{ReportInterval: 60, SamplePeriod: 10, UTCOffsetMinutes: 15 * 60}, want: ErrInvalidMessage},
		{name: "tariff bad date", body: TariffSchedule{Tariff: "t", Holidays: []TariffHoliday{{Day: 30, Month: 2, Year: 2026, TreatAs: 1}}}, want: ErrInvalidMessage},
		{name: "tariff bad treat_as", body: TariffSchedule{Tariff: "t", Holidays: []TariffHoliday{{Day: 1, Month: 1, Year: 2026, TreatAs: 3}}}, want: ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeEgress(tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeIngress_Reading(t *testing.T) {
	inner := `{"period_start":1000,"period_end":1300,"data":[{"module_id":"m1","sample_count":5,"mean_voltage":230.1,"mean_frequency":50,"apparent_power":[1,2,3,4],"power_factor":[0.9,1,0.1,0.2],"kwh_usage":0.4,"state_changes":[{"state":true,"timestamp":1100}],"firmware":"1.2"}]}`
	stringData, err := json.Marshal(inner)
	require.NoError(t, err)

	forms := map[string][]byte{
		"string data": []byte(`{"type":"reading","data":` + string(stringData) + `}`),
		"object data": []byte(`{"type":"reading","data":` + inner + `}`),
	}

	for name, raw := range forms {
		t.Run(name, func(t *testing.T) {
			msg, err := DecodeIngress(raw)
			require.NoError(t, err)

			report, ok := msg.(*ReadingReport)
			require.True(t, ok, "got %T", msg)
			assert.Equal(t, int64(1000), report.PeriodStart)
			require.Len(t, report.Data, 1)
			assert.Equal(t, "m1", report.Data[0].ModuleID)
			assert.Equal(t, []float64{1, 2, 3, 4}, report.Data[0].ApparentPower)
			assert.Equal(t, []StateChangeEvent{{State: true, Timestamp: 1100}}, report.Data[0].StateChanges)
		})
	}
}

func TestDecodeIngress_SetupAndUpdate(t *testing.T) {
	msg, err := DecodeIngress([]byte(`{"type":"setup","data":{"setup_token":"tok","module_ids":["a","b"]}}`))
	require.NoError(t, err)
	setup, ok := msg.(*SetupRequest)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, setup.ModuleIDs)

	msg, err = DecodeIngress([]byte(`{"type":"update"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUpdate, msg.Kind())

	msg, err = DecodeIngress([]byte(`{"type":"update","data":"{\"reason\":\"boot\"}"}`))
	require.NoError(t, err)
	assert.Equal(t, "boot", msg.(*UpdateRequest).Reason)
}

func TestDecodeIngress_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: `nope`, want: ErrInvalidMessage},
		{name: "missing type", raw: `{"data":"{}"}`, want: ErrUnknownKind},
		{name: "unknown tag", raw: `{"type":"tp","data":"{}"}`, want: ErrUnknownKind},
		{name: "egress kind inbound", raw: `{"type":"rules","data":"{}"}`, want: ErrUnknownKind},
		{name: "reading without data", raw: `{"type":"reading"}`, want: ErrInvalidMessage},
		{name: "reading bad data", raw: `{"type":"reading","data":"{\"period_start\":\"soon\"}"}`, want: ErrInvalidMessage},
		{name: "setup without modules", raw: `{"type":"setup","data":{"setup_token":"t","module_ids":[]}}`, want: ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeIngress([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeEgress_StrictFields(t *testing.T) {
	_, err := DecodeEgress([]byte(`{"type":"parameters","data":{"report_interval":60,"sample_period":10,"colour":"red"}}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestActionValid(t *testing.T) {
	for _, a := range []Action{ActionAppend, ActionReplace, ActionExec, ActionExecIf} {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, Action("APPEND").Valid())
	assert.False(t, Action("").Valid())
}
