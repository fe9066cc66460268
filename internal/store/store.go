package store

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

// ErrNotFound is returned when a unit or its credentials do not exist.
var ErrNotFound = errors.New("store: not found")

// Repository is the relational store the gateway reads provisioning data
// from and writes telemetry into.
type Repository interface {
	// TopicAllocations lists the topics granted to a unit.
	TopicAllocations(ctx context.Context, unitID string) ([]auth.TopicAllocation, error)

	// UnitConnection returns the unit's ingress/egress topics and broker endpoint.
	UnitConnection(ctx context.Context, unitID string) (UnitConnection, error)

	// UnitCredentials returns the stored password hash for a unit.
	UnitCredentials(ctx context.Context, unitID string) (UnitCredentials, error)

	// AssignUnit records userID as the owner of an existing unit.
	AssignUnit(ctx context.Context, unitID, userID string) error

	// RegisterModules attaches modules to a unit, creating the unit row if needed.
	RegisterModules(ctx context.Context, unitID, userID string, moduleIDs []string) error

	// ModulesByUnit lists the module IDs attached to a unit.
	ModulesByUnit(ctx context.Context, unitID string) ([]string, error)

	// RuleAllocations lists the rules allocated to the given modules.
	RuleAllocations(ctx context.Context, moduleIDs []string) ([]RuleAllocation, error)

	// RulesByID loads rule bodies.
	RulesByID(ctx context.Context, ids []int64) ([]protocol.DeviceRule, error)

	// WriteBatch upserts readings and inserts state changes in one transaction.
	WriteBatch(ctx context.Context, b telemetry.Batch) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// UnitConnection describes where a unit publishes and subscribes.
type UnitConnection struct {
	UnitID        string `json:"unit_id"`
	IngressTopic  string `json:"ingress_topic"`
	EgressTopic   string `json:"egress_topic"`
	BrokerAddress string `json:"broker_address"`
	BrokerPort    int    `json:"broker_port"`
}

// UnitCredentials are what the broker password hook checks against.
type UnitCredentials struct {
	UnitID       string
	PasswordHash string
	IsSuperuser  bool
}

// RuleAllocation links one rule to one module.
type RuleAllocation struct {
	ModuleID string
	RuleID   int64
}

// Observer records store operation latency.
type Observer interface {
	ObserveDB(operation string, start time.Time)
}

type noopObserver struct{}

func (noopObserver) ObserveDB(string, time.Time) {}

// rowsForWrite returns the deduplicated readings and their state changes.
func rowsForWrite(b telemetry.Batch) ([]telemetry.Reading, []telemetry.StateChange) {
	readings := b.Deduplicated()
	return readings, telemetry.Batch{Readings: readings}.StateChanges()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
