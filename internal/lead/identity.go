package lead

import "strings"

// CleanText trims s and collapses internal whitespace runs to a single space.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Key is the identity used for duplicate suppression: name, region, and source,
// case-folded and whitespace-normalized. Timestamps and optional fields are ignored.
func Key(c Candidate) string {
	return strings.ToLower(CleanText(c.Name)) + "|" +
		strings.ToLower(CleanText(c.Region)) + "|" +
		strings.ToLower(CleanText(c.Source))
}

// Retain returns the candidates that carry a non-blank name, in order.
func Retain(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if CleanText(c.Name) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Accumulate returns a new slice holding acc followed by the records of batch whose
// Key is not already present. Afterwards records tagged with region are capped to
// limit, keeping the first ones in discovery order. A limit <= 0 disables the cap.
// Neither input slice is modified.
func Accumulate(acc, batch []Candidate, region string, limit int) []Candidate {
	seen := make(map[string]struct{}, len(acc)+len(batch))
	merged := make([]Candidate, 0, len(acc)+len(batch))
	for _, c := range acc {
		seen[Key(c)] = struct{}{}
		merged = append(merged, c)
	}
	for _, c := range batch {
		key := Key(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
	}
	return CapRegion(merged, region, limit)
}

// CapRegion drops records of region beyond the first limit, preserving the order of
// everything else. It always returns a new slice.
func CapRegion(records []Candidate, region string, limit int) []Candidate {
	out := make([]Candidate, 0, len(records))
	kept := 0
	for _, c := range records {
		if limit > 0 && c.Region == region {
			if kept >= limit {
				continue
			}
			kept++
		}
		out = append(out, c)
	}
	return out
}
