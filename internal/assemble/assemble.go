// Package assemble converts between live form state and backend records: it
// composes the submission payload from scalar values, selector chains, and
// completed rows, and extracts form state back out of a loaded record.
//
// Payloads carry both the label and the item ID per hierarchy level (the
// label under the level key, the ID under "<key>_id") so records written
// today hydrate by ID while older label-only records still match.
package assemble

import (
	"fmt"
	"strconv"

	"github.com/tukangworks/tukang/internal/composer"
	"github.com/tukangworks/tukang/model"
)

// Assemble builds the submission payload for a screen. Scalar values are
// copied verbatim, each selector contributes label and ID pairs at the top
// level, and each section contributes an array of row objects. Number row
// fields are emitted as float64.
func Assemble(screen model.ScreenDefinition, values map[string]string,
	selectors map[string][]*model.Item, rows map[string][]composer.CompletedRow) map[string]any {

	payload := make(map[string]any, len(screen.Fields)+len(screen.Sections))
	for _, f := range screen.Fields {
		payload[f.Key] = values[f.Key]
	}

	for _, sel := range screen.Selectors {
		for i, item := range selectors[sel.ID] {
			if item == nil || i >= len(sel.Levels) {
				continue
			}
			payload[sel.Levels[i].Key] = item.Label
			payload[sel.Levels[i].Key+"_id"] = item.ID
		}
	}

	for _, sec := range screen.Sections {
		entries := make([]map[string]any, 0, len(rows[sec.ID]))
		for _, r := range rows[sec.ID] {
			entry := make(map[string]any, 2*len(sec.Levels)+len(sec.Fields))
			for i, item := range r.Levels {
				if i >= len(sec.Levels) {
					break
				}
				entry[sec.Levels[i].Key] = item.Label
				entry[sec.Levels[i].Key+"_id"] = item.ID
			}
			for _, f := range sec.Fields {
				raw := r.Fields[f.Key]
				if f.Type == "number" {
					if n, err := strconv.ParseFloat(raw, 64); err == nil {
						entry[f.Key] = n
						continue
					}
				}
				entry[f.Key] = raw
			}
			entries = append(entries, entry)
		}
		payload[sec.ID] = entries
	}
	return payload
}

// Record is the form state extracted from a loaded backend record.
type Record struct {
	Values    map[string]string
	Selectors map[string][]model.ItemRef
	Sections  map[string][]composer.RowRecord
}

// ParseRecord extracts hydratable form state from a backend record. Unknown
// keys are ignored; missing hierarchy IDs fall back to label references.
func ParseRecord(screen model.ScreenDefinition, record map[string]any) Record {
	out := Record{
		Values:    make(map[string]string, len(screen.Fields)),
		Selectors: make(map[string][]model.ItemRef, len(screen.Selectors)),
		Sections:  make(map[string][]composer.RowRecord, len(screen.Sections)),
	}

	for _, f := range screen.Fields {
		if v, ok := record[f.Key]; ok {
			out.Values[f.Key] = stringify(v)
		}
	}

	for _, sel := range screen.Selectors {
		refs := make([]model.ItemRef, len(sel.Levels))
		for i, lvl := range sel.Levels {
			refs[i] = refFrom(record, lvl.Key)
		}
		out.Selectors[sel.ID] = refs
	}

	for _, sec := range screen.Sections {
		raw, ok := record[sec.ID].([]any)
		if !ok {
			continue
		}
		records := make([]composer.RowRecord, 0, len(raw))
		for _, e := range raw {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			rec := composer.RowRecord{
				Refs:   make([]model.ItemRef, len(sec.Levels)),
				Fields: make(map[string]string, len(sec.Fields)),
			}
			for i, lvl := range sec.Levels {
				rec.Refs[i] = refFrom(entry, lvl.Key)
			}
			for _, f := range sec.Fields {
				if v, ok := entry[f.Key]; ok {
					rec.Fields[f.Key] = stringify(v)
				}
			}
			records = append(records, rec)
		}
		out.Sections[sec.ID] = records
	}
	return out
}

func refFrom(entry map[string]any, key string) model.ItemRef {
	ref := model.ItemRef{}
	if id, ok := entry[key+"_id"]; ok {
		ref.ID = stringify(id)
	}
	if label, ok := entry[key]; ok {
		ref.Label = stringify(label)
	}
	return ref
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
