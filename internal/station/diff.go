package station

import "sort"

// Change is one field of a station that differs between two directories
type Change struct {
	Station  string `json:"station"`
	Field    string `json:"field"` // "id", "link", "lat", "long", "alt" or "label"
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// DiffResult contains the results of comparing two directories
type DiffResult struct {
	Added   []string  `json:"added"`
	Removed []string  `json:"removed"`
	Changed []*Change `json:"changed"`
}

// Empty reports whether the directories hold the same stations with the same values
func (r *DiffResult) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Diff compares a rebuilt directory against the previous one. A nil previous
// directory counts as empty.
func Diff(previous, current *Directory) *DiffResult {
	result := &DiffResult{
		Added:   make([]string, 0),
		Removed: make([]string, 0),
		Changed: make([]*Change, 0),
	}

	if previous == nil {
		previous = &Directory{}
	}
	if current == nil {
		current = &Directory{}
	}

	for name, rec := range current.Stations {
		old, exists := previous.Stations[name]
		if !exists {
			result.Added = append(result.Added, name)
			continue
		}
		result.Changed = append(result.Changed, DetectChanges(old, rec)...)
	}
	for name := range previous.Stations {
		if _, exists := current.Stations[name]; !exists {
			result.Removed = append(result.Removed, name)
		}
	}

	// Sort for consistent output
	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Slice(result.Changed, func(i, j int) bool {
		if result.Changed[i].Station != result.Changed[j].Station {
			return result.Changed[i].Station < result.Changed[j].Station
		}
		return result.Changed[i].Field < result.Changed[j].Field
	})

	return result
}

// DetectChanges compares two records of the same station. The link is compared
// without its date token, which moves with every refresh.
func DetectChanges(previous, current *Record) []*Change {
	fields := []struct {
		name     string
		old, new string
	}{
		{"id", previous.ExternalID, current.ExternalID},
		{"link", stripDate(previous.Link), stripDate(current.Link)},
		{"lat", previous.Latitude, current.Latitude},
		{"long", previous.Longitude, current.Longitude},
		{"alt", previous.Altitude, current.Altitude},
		{"label", previous.Label, current.Label},
	}

	var changes []*Change
	for _, f := range fields {
		if f.old != f.new {
			changes = append(changes, &Change{
				Station:  current.Name,
				Field:    f.name,
				OldValue: f.old,
				NewValue: f.new,
			})
		}
	}
	return changes
}

func stripDate(link string) string {
	return datePattern.ReplaceAllString(link, "")
}
