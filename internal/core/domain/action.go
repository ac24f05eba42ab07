package domain

import "fmt"

type Action string

const (
	ActionIssue    Action = "issue"
	ActionAdd      Action = "add"
	ActionReturn   Action = "return"
	ActionCredit   Action = "credit"
	ActionStorage  Action = "storage"
	ActionRetrieve Action = "retrieve"
)

// Valid reports whether a is one of the closed set of ledger actions.
func (a Action) Valid() bool {
	_, ok := transitions[a]
	return ok
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", s)}
	}
	return a, nil
}

type Category string

const (
	CategoryCombatGear Category = "combat-gear"
	CategoryClothing   Category = "clothing"
	CategoryRSPGear    Category = "rsp-gear"
	CategoryWeapons    Category = "weapons"
)

var knownCategories = map[Category]bool{
	CategoryCombatGear: true,
	CategoryClothing:   true,
	CategoryRSPGear:    true,
	CategoryWeapons:    true,
}

func (c Category) Valid() bool {
	return knownCategories[c]
}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

// Categories returns the fixed category set in a stable order.
func Categories() []Category {
	return []Category{CategoryCombatGear, CategoryClothing, CategoryRSPGear, CategoryWeapons}
}
