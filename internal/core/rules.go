package core

import "workassign/pkg/domain"

// NewRulesEngine constructs an engine with no rules registered.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// capacity is the daily hour cap checked by the daily_capacity rule; a
// non-positive value falls back to the allocator default.
func NewDefaultRulesEngine(capacity int) *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPositionReferenceRule())
	engine.Register(NewAssignmentIntegrityRule())
	engine.Register(NewDailyCapacityRule(capacity))
	return engine
}
