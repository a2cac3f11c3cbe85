package registry

// Change is one field-level edit: the authoritative value before and after.
type Change struct {
	Old any `json:"old_value"`
	New any `json:"new_value"`
}

// Changeset maps logical field names to their old/new values. An empty
// changeset means "nothing changed": callers must write no log rows and touch
// no index.
type Changeset map[string]Change

// IsEmpty reports whether the changeset carries no edits.
func (c Changeset) IsEmpty() bool { return len(c) == 0 }

// Fields returns the changed field names in registry order.
func (c Changeset) Fields() []string {
	names := make([]string, 0, len(c))
	for _, def := range fieldRegistry {
		if _, ok := c[def.Name]; ok {
			names = append(names, def.Name)
		}
	}
	return names
}

// HasCatchmentChange reports whether any catchment-affecting field changed.
func (c Changeset) HasCatchmentChange() bool {
	for _, def := range fieldRegistry {
		if def.Catchment {
			if _, ok := c[def.Name]; ok {
				return true
			}
		}
	}
	return false
}

// Diff computes the field-level changeset between two records using structural
// equality per the field registry. It is a pure function: Diff(r, r) is empty
// for every record r.
func Diff(old, updated *PatientRecord) Changeset {
	cs := Changeset{}
	for _, def := range fieldRegistry {
		ov := def.Get(old)
		nv := def.Get(updated)
		if !def.Equal(ov, nv) {
			cs[def.Name] = Change{Old: ov, New: nv}
		}
	}
	return cs
}

// MergeUpdate applies a sparse update on top of existing and returns the merged
// candidate; existing is left untouched. Zero-valued request fields mean
// "unchanged"; Active and MergedWith merge only when their pointers are set.
func MergeUpdate(existing *PatientRecord, req UpdateRequest) *PatientRecord {
	merged := existing.Clone()
	for _, def := range fieldRegistry {
		v := def.Get(&req.Fields)
		if v == nil {
			continue
		}
		if b, ok := v.(bool); ok && !b {
			continue
		}
		// Apply only rejects type mismatches, which cannot happen for values
		// read back out of the registry itself.
		_ = def.Apply(merged, v)
	}
	if req.Active != nil {
		merged.Active = *req.Active
	}
	if req.MergedWith != nil {
		m := *req.MergedWith
		merged.MergedWith = &m
	}
	return merged
}
