package conflict

import (
	"bytes"
	"encoding/json"
	"sort"
)

// metaKeys are bookkeeping fields excluded from the operator-facing diff.
// They differ on virtually every record and carry no business meaning.
var metaKeys = map[string]struct{}{
	"id":          {},
	"created_at":  {},
	"updated_at":  {},
	"synced_at":   {},
	"sync_status": {},
	"terminal_id": {},
}

// FieldDiff is one field that differs between the local and server copies.
// Values are re-marshaled JSON so the UI can render them verbatim.
type FieldDiff struct {
	Field  string          `json:"field"`
	Local  json.RawMessage `json:"local"`
	Server json.RawMessage `json:"server"`
}

// Diff compares two JSON documents field by field, skipping bookkeeping
// keys. A field present on only one side appears with a null counterpart.
// Returns nil when either side is not a JSON object.
func Diff(local, server json.RawMessage) []FieldDiff {
	var localMap, serverMap map[string]json.RawMessage
	if err := json.Unmarshal(local, &localMap); err != nil {
		return nil
	}
	if err := json.Unmarshal(server, &serverMap); err != nil {
		return nil
	}

	keys := make(map[string]struct{}, len(localMap)+len(serverMap))
	for k := range localMap {
		keys[k] = struct{}{}
	}
	for k := range serverMap {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		if _, meta := metaKeys[k]; meta {
			continue
		}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var diffs []FieldDiff
	for _, k := range sorted {
		lv, lok := localMap[k]
		sv, sok := serverMap[k]
		if lok && sok && jsonEqual(lv, sv) {
			continue
		}
		d := FieldDiff{Field: k, Local: json.RawMessage("null"), Server: json.RawMessage("null")}
		if lok {
			d.Local = lv
		}
		if sok {
			d.Server = sv
		}
		diffs = append(diffs, d)
	}
	return diffs
}

// jsonEqual compares two raw values ignoring formatting differences.
func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	an, err := json.Marshal(av)
	if err != nil {
		return false
	}
	bn, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return bytes.Equal(an, bn)
}
