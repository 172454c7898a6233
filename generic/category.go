/*
category.go - Ledger category registration and lookup

PURPOSE:
  Categories name the balances kept in the ledger (overtime bank, vacation,
  permission hours...). Domain packages register the categories they use
  so API input and stored rows can be validated back into known values.

USAGE:
  // In attendance/types.go
  func init() {
      generic.RegisterCategory(CategoryOvertimeBank)
  }

  cat, ok := generic.LookupCategory("overtime_bank")

SEE ALSO:
  - types.go: Scope, LedgerEntry
  - attendance/types.go: the hours categories
*/
package generic

import (
	"sort"
	"sync"
)

// Category is a ledger balance name, e.g. "vacation".
type Category string

func (c Category) String() string { return string(c) }

// =============================================================================
// CATEGORY REGISTRY
// =============================================================================

var (
	categoryRegistry = make(map[Category]bool)
	registryMu       sync.RWMutex
)

// RegisterCategory adds a category to the global registry.
// Call this from domain package init() functions.
func RegisterCategory(c Category) {
	registryMu.Lock()
	defer registryMu.Unlock()
	categoryRegistry[c] = true
}

// LookupCategory validates a raw category name.
func LookupCategory(name string) (Category, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c := Category(name)
	return c, categoryRegistry[c]
}

// ListCategories returns all registered categories, sorted.
func ListCategories() []Category {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Category, 0, len(categoryRegistry))
	for c := range categoryRegistry {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
