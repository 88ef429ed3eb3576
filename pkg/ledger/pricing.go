package ledger

import (
	"fmt"
	"sort"
)

// ActionPriceTable maps each unlockable action to its credit cost. The table is
// immutable once built.
type ActionPriceTable struct {
	prices map[ActionType]PositiveCredits
}

// ActionPrice is one row of the price table.
type ActionPrice struct {
	Action  ActionType
	Credits PositiveCredits
}

// DefaultActionPrices returns the built-in price list.
func DefaultActionPrices() ActionPriceTable {
	return ActionPriceTable{prices: map[ActionType]PositiveCredits{
		ActionPropertyPhoto:   10,
		ActionAgentNumber:     25,
		ActionBookAppointment: 30,
		ActionExactLocation:   15,
		ActionUnlockDocuments: 50,
		ActionSendInquiry:     5,
		ActionUnlockVRTour:    20,
		ActionViewAnalytics:   40,
	}}
}

// NewActionPriceTable validates a custom price list. Every key must be a known
// action and every cost must be positive.
func NewActionPriceTable(prices map[string]int64) (ActionPriceTable, error) {
	if len(prices) == 0 {
		return ActionPriceTable{}, fmt.Errorf("%w: empty table", ErrInvalidPriceTable)
	}
	resolved := make(map[ActionType]PositiveCredits, len(prices))
	for rawAction, rawCost := range prices {
		action, err := ParseActionType(rawAction)
		if err != nil {
			return ActionPriceTable{}, fmt.Errorf("%w: %v", ErrInvalidPriceTable, err)
		}
		cost, err := NewPositiveCredits(rawCost)
		if err != nil {
			return ActionPriceTable{}, fmt.Errorf("%w: %s: %v", ErrInvalidPriceTable, action, err)
		}
		resolved[action] = cost
	}
	return ActionPriceTable{prices: resolved}, nil
}

// WithOverrides returns a copy of the table with the given prices replaced.
func (table ActionPriceTable) WithOverrides(overrides map[string]int64) (ActionPriceTable, error) {
	merged := make(map[string]int64, len(table.prices)+len(overrides))
	for action, cost := range table.prices {
		merged[string(action)] = cost.Int64()
	}
	for action, cost := range overrides {
		merged[action] = cost
	}
	return NewActionPriceTable(merged)
}

// Price returns the cost of action. Actions without a configured price are
// reported as unknown.
func (table ActionPriceTable) Price(action ActionType) (PositiveCredits, error) {
	cost, ok := table.prices[action]
	if !ok {
		return 0, WrapError(errorOperationSpend, errorSubjectPrice, errorCodeUnknown, fmt.Errorf("%w: %s", ErrUnknownAction, action))
	}
	return cost, nil
}

// List returns every priced action sorted by name.
func (table ActionPriceTable) List() []ActionPrice {
	rows := make([]ActionPrice, 0, len(table.prices))
	for action, cost := range table.prices {
		rows = append(rows, ActionPrice{Action: action, Credits: cost})
	}
	sort.Slice(rows, func(left, right int) bool {
		return rows[left].Action < rows[right].Action
	})
	return rows
}
