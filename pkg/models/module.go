// Package models contains domain models for dadgar.
package models

import "fmt"

// Module identifies one of the fixed task specializations the assistant
// can operate in. The set is closed and known at deploy time.
type Module string

const (
	ModuleGenericChat      Module = "generic_chat"
	ModuleContractDrafting Module = "contract_drafting"
	ModuleContractReview   Module = "contract_review"
	ModulePetitions        Module = "petitions_complaints"
)

// DefaultModule is the module every new chat starts in.
const DefaultModule = ModuleGenericChat

// Modules returns all modules in their canonical order.
func Modules() []Module {
	return []Module{
		ModuleGenericChat,
		ModuleContractDrafting,
		ModuleContractReview,
		ModulePetitions,
	}
}

// Valid reports whether m is a member of the closed module set.
func (m Module) Valid() bool {
	switch m {
	case ModuleGenericChat, ModuleContractDrafting, ModuleContractReview, ModulePetitions:
		return true
	}
	return false
}

// ParseModule converts a string to a Module, erroring on unknown values.
func ParseModule(s string) (Module, error) {
	m := Module(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q", s)
	}
	return m, nil
}
