// Package entity names the business collections the dashboard tracks and
// carries their records as opaque JSON payloads. Only the identifier is
// interpreted; everything else passes through untouched.
package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection identifies one entity collection on the wire and in the store.
type Collection string

const (
	Products  Collection = "products"
	Salons    Collection = "salons"
	Employees Collection = "employees"
	Targets   Collection = "targets"
	Beats     Collection = "beats"
	Orders    Collection = "orders"
)

// All lists every collection in display order.
var All = []Collection{Products, Salons, Employees, Targets, Beats, Orders}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, k := range All {
		if k == c {
			return true
		}
	}
	return false
}

// ErrMissingID is returned when a payload carries no usable identifier.
var ErrMissingID = errors.New("entity: missing id")

// Record is a single entity. Data holds the full JSON object as received.
type Record struct {
	ID   string
	Data json.RawMessage
}

// Key returns the record identifier. It is the key function for caches.
func Key(r Record) string { return r.ID }

// idFields are checked in order; the first non-empty one wins.
var idFields = []string{"_id", "id"}

// UnmarshalJSON keeps the raw object and extracts the identifier from
// "_id" or "id". String and numeric identifiers are accepted.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("entity: decode record: %w", err)
	}
	id, err := extractID(fields)
	if err != nil {
		return err
	}
	r.ID = id
	r.Data = append(r.Data[:0], bytes.TrimSpace(data)...)
	return nil
}

// MarshalJSON writes the payload back out unchanged.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return json.Marshal(map[string]string{"_id": r.ID})
	}
	return r.Data, nil
}

func extractID(fields map[string]json.RawMessage) (string, error) {
	for _, name := range idFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s, nil
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			return n.String(), nil
		}
	}
	return "", ErrMissingID
}

// Date returns the record's "date" field, or "" when it has none.
func (r Record) Date() string {
	var body struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(r.Data, &body); err != nil {
		return ""
	}
	return body.Date
}

// InDate reports whether r belongs to the view for date. Records without a
// date belong to every view, and an empty date selects everything.
func (r Record) InDate(date string) bool {
	if date == "" {
		return true
	}
	d := r.Date()
	return d == "" || d == date
}

// DecodeRecords decodes a JSON array of records. It fails on the first
// record without an identifier.
func DecodeRecords(data []byte) ([]Record, error) {
	var out []Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
