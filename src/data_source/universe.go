package datasource

import "strings"

// BuildUniverse orders the subscription list: priority symbols first, then
// whatever else the exchange lists, deduplicated and capped at limit.
// A non-positive limit means no cap.
func BuildUniverse(priority, available []string, limit int) []string {
	seen := make(map[string]struct{}, len(priority)+len(available))
	out := make([]string, 0, len(priority)+len(available))

	add := func(sym string) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return true
		}
		if _, dup := seen[sym]; dup {
			return true
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
		return true
	}

	for _, sym := range priority {
		if !add(sym) {
			return out
		}
	}
	for _, sym := range available {
		if !add(sym) {
			return out
		}
	}
	return out
}
