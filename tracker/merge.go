package tracker

// =============================================================================
// MERGE - the reconciliation rule
// =============================================================================

// Merge reconciles the remote and local views of one logical day.
//
// The result is remote ∪ local-only: every remote record as the remote has
// it, followed by the local records whose id the remote does not contain, in
// local order. Remote wins for any id it knows; there is no field merge.
//
// Merge is idempotent: Merge(remote, Merge(remote, local)) equals
// Merge(remote, local).
func Merge(remote, local []Delivery) []Delivery {
	seen := make(map[string]struct{}, len(remote))
	out := make([]Delivery, 0, len(remote)+len(local))
	for _, d := range remote {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	for _, d := range LocalOnly(remote, local) {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}

// LocalOnly returns the local records whose id is absent from remote.
func LocalOnly(remote, local []Delivery) []Delivery {
	ids := make(map[string]struct{}, len(remote))
	for _, d := range remote {
		ids[d.ID] = struct{}{}
	}
	var out []Delivery
	for _, d := range local {
		if _, ok := ids[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out
}

// IndexByID maps deliveries by id. Later duplicates win.
func IndexByID(deliveries []Delivery) map[string]Delivery {
	m := make(map[string]Delivery, len(deliveries))
	for _, d := range deliveries {
		m[d.ID] = d
	}
	return m
}

// Contains reports whether a delivery with id is present.
func Contains(deliveries []Delivery, id string) bool {
	for _, d := range deliveries {
		if d.ID == id {
			return true
		}
	}
	return false
}
