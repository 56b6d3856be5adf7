package core

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewOwnedListIntegrityRule())
	engine.Register(NewOwnershipConsistencyRule())
	return engine
}
