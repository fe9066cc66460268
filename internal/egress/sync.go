package egress

import (
	"context"
	"fmt"

	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
)

// SyncRules sends the unit's complete rule snapshot, replacing whatever
// the device holds.
func (s *Service) SyncRules(ctx context.Context, unitID string) (broker.Status, error) {
	set, err := s.RuleSnapshot(ctx, unitID)
	if err != nil {
		return 0, err
	}
	return s.SendRules(ctx, unitID, set)
}

// QueueRuleSync builds the snapshot now and publishes it once compressed.
func (s *Service) QueueRuleSync(ctx context.Context, unitID string) error {
	set, err := s.RuleSnapshot(ctx, unitID)
	if err != nil {
		return err
	}
	return s.Enqueue(ctx, unitID, set)
}

// RuleSnapshot assembles a replace RuleSet with one replace update per
// module. Modules without allocations get an empty list, which clears
// their rules on the device. A unit with no allocations at all, or whose
// allocations all reference missing rules, yields ErrNoRulesConfigured
// instead of a snapshot.
func (s *Service) RuleSnapshot(ctx context.Context, unitID string) (protocol.RuleSet, error) {
	modules, err := s.repo.ModulesByUnit(ctx, unitID)
	if err != nil {
		return protocol.RuleSet{}, fmt.Errorf("loading modules for %s: %w", unitID, err)
	}
	if len(modules) == 0 {
		return protocol.RuleSet{}, ErrNoData
	}

	allocs, err := s.repo.RuleAllocations(ctx, modules)
	if err != nil {
		return protocol.RuleSet{}, fmt.Errorf("loading rule allocations for %s: %w", unitID, err)
	}
	if len(allocs) == 0 {
		return protocol.RuleSet{}, ErrNoRulesConfigured
	}

	seen := make(map[int64]bool, len(allocs))
	ids := make([]int64, 0, len(allocs))
	for _, a := range allocs {
		if !seen[a.RuleID] {
			seen[a.RuleID] = true
			ids = append(ids, a.RuleID)
		}
	}

	rules, err := s.repo.RulesByID(ctx, ids)
	if err != nil {
		return protocol.RuleSet{}, fmt.Errorf("loading rules for %s: %w", unitID, err)
	}
	byID := make(map[int64]protocol.DeviceRule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	perModule := make(map[string][]protocol.DeviceRule, len(modules))
	for _, a := range allocs {
		rule, ok := byID[a.RuleID]
		if !ok {
			s.logger.Warn("rule allocation references a missing rule", "module_id", a.ModuleID, "rule_id", a.RuleID)
			continue
		}
		perModule[a.ModuleID] = append(perModule[a.ModuleID], rule)
	}
	if len(perModule) == 0 {
		return protocol.RuleSet{}, ErrNoRulesConfigured
	}

	set := protocol.RuleSet{Action: protocol.ActionReplace, Rules: make([]protocol.RuleUpdate, 0, len(modules))}
	for _, m := range modules {
		list := perModule[m]
		if list == nil {
			list = []protocol.DeviceRule{}
		}
		set.Rules = append(set.Rules, protocol.RuleUpdate{
			ModuleID: m,
			Action:   protocol.ActionReplace,
			Rules:    list,
		})
	}
	return set, nil
}
