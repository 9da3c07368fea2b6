package core

import "hujra/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	for _, rule := range defaultRules() {
		engine.Register(rule)
	}
	return engine
}

func defaultRules() []domain.Rule {
	return []domain.Rule{
		NewBookSetExclusivityRule(),
		NewVisitStudentReferenceRule(),
	}
}
