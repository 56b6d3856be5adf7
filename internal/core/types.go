package core

import "kittycore/pkg/domain"

type (
	AccountID            = domain.AccountID
	KittyIndex           = domain.KittyIndex
	BlockNumber          = domain.BlockNumber
	Balance              = domain.Balance
	DNA                  = domain.DNA
	Kitty                = domain.Kitty
	LinkedItem           = domain.LinkedItem
	Params               = domain.Params
	Event                = domain.Event
	ExistenceRequirement = domain.ExistenceRequirement
	Severity             = domain.Severity
	Change               = domain.Change
	Violation            = domain.Violation
	Result               = domain.Result
	RuleViolationError   = domain.RuleViolationError
	Rule                 = domain.Rule
	RulesEngine          = domain.RulesEngine
	Transaction          = domain.Transaction
	TransactionView      = domain.TransactionView
	PersistentStore      = domain.PersistentStore
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	KeepAlive  = domain.KeepAlive
	AllowDeath = domain.AllowDeath
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
