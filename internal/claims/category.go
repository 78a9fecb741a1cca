// Package claims lists and opens the damage records filed for a client.
package claims

import (
	"fmt"

	"github.com/kylejryan/claims-agent-portal/internal/rtdb"
)

// Category is one of the fixed claim categories.
type Category string

// Claim categories. Kfz and Accidents live directly under the client;
// the household subcategories are nested under hausHaltSchaden.
const (
	Kfz       Category = "kfz"
	Accidents Category = "accidents"
	Fire      Category = "fire"
	Water     Category = "water"
	Burglary  Category = "burglary"
	Glass     Category = "glass"
	Natural   Category = "natural"
	Liability Category = "liability"
)

// Store path segments.
const (
	usersRoot     = "Users"
	householdRoot = "hausHaltSchaden"
	fieldReport   = "schadenmeldung"
	fieldPhotos   = "fotos"
)

var segments = map[Category]string{
	Kfz:       "kfzSchäden",
	Accidents: "unfall",
	Fire:      "feuer",
	Water:     "leitungswasser",
	Burglary:  "einbruch",
	Glass:     "glas",
	Natural:   "naturgewalt",
	Liability: "haftpflicht",
}

// TopLevel lists the categories stored directly under a client.
var TopLevel = []Category{Kfz, Accidents}

// Household lists the household subcategories in display order.
var Household = []Category{Fire, Water, Burglary, Glass, Natural, Liability}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := segments[c]; !ok {
		return "", fmt.Errorf("unknown claim category %q", s)
	}
	return c, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := segments[c]
	return ok
}

// IsHousehold reports whether c is nested under the household parent key.
func (c Category) IsHousehold() bool {
	switch c {
	case Fire, Water, Burglary, Glass, Natural, Liability:
		return true
	}
	return false
}

// Segment is the store key for the category.
func (c Category) Segment() string { return segments[c] }

// CategoryPath is where the records of a category live for a client:
// Users/{client}/{segment} for top-level categories and
// Users/{client}/hausHaltSchaden/{segment} for household ones.
func CategoryPath(clientID string, c Category) string {
	if c.IsHousehold() {
		return rtdb.Join(usersRoot, clientID, householdRoot, c.Segment())
	}
	return rtdb.Join(usersRoot, clientID, c.Segment())
}

// RecordPath is the path of a single damage record.
func RecordPath(clientID string, c Category, key string) string {
	return rtdb.Join(CategoryPath(clientID, c), key)
}
