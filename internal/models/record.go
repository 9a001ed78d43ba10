// Package models provides data model definitions for the gymsync core.
package models

import "time"

// Logical tables synchronized by the gym application.
const (
	TableSubscribers  = "subscribers"
	TableProducts     = "products"
	TableSales        = "sales"
	TableCoursePoints = "course_points"
	TableDietItems    = "diet_items"
	TableGroups       = "groups"
	TableGroupItems   = "group_items"
)

var knownTables = map[string]bool{
	TableSubscribers:  true,
	TableProducts:     true,
	TableSales:        true,
	TableCoursePoints: true,
	TableDietItems:    true,
	TableGroups:       true,
	TableGroupItems:   true,
}

// IsKnownTable reports whether name is one of the synchronized tables.
func IsKnownTable(name string) bool {
	return knownTables[name]
}

// KnownTables returns the synchronized table names.
func KnownTables() []string {
	return []string{
		TableSubscribers, TableProducts, TableSales, TableCoursePoints,
		TableDietItems, TableGroups, TableGroupItems,
	}
}

// Record is a row in a logical table. The sync core is schema-agnostic:
// table-specific fields are carried through untouched and only the "id"
// and "created_at" keys have core-level meaning. An id is unique within
// its table and is either server-assigned or a locally generated
// temporary id pending confirmation.
type Record map[string]any

// ID returns the record's id, or "" when unset.
func (r Record) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// SetID sets the record's id.
func (r Record) SetID(id string) {
	r["id"] = id
}

// CreatedAt returns the record's created_at timestamp, or "" when unset.
func (r Record) CreatedAt() string {
	if v, ok := r["created_at"].(string); ok {
		return v
	}
	return ""
}

// StampCreatedAt sets created_at to the current time if absent.
func (r Record) StampCreatedAt() {
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies fields into the record, overwriting existing keys.
// The id key is never overwritten by a merge.
func (r Record) Merge(fields map[string]any) {
	for k, v := range fields {
		if k == "id" {
			continue
		}
		r[k] = v
	}
}
