package crawler

// ResultSet is the deduplicating accumulator for discovered files, keyed by
// resolved URL with first-write-wins semantics and stable insertion order.
// It is not safe for concurrent use; the engine coordinator serializes all
// writes.
type ResultSet struct {
	byURL map[string]int
	files []DiscoveredFile
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{byURL: make(map[string]int)}
}

// Add records a discovered file unless its resolved URL was already seen.
// Returns true when the entry was new.
func (rs *ResultSet) Add(f DiscoveredFile) bool {
	if f.URL == "" {
		return false
	}
	if _, ok := rs.byURL[f.URL]; ok {
		return false
	}
	rs.byURL[f.URL] = len(rs.files)
	rs.files = append(rs.files, f)
	return true
}

// Contains reports whether a resolved URL is already in the set.
func (rs *ResultSet) Contains(url string) bool {
	_, ok := rs.byURL[url]
	return ok
}

// Len returns the number of unique files discovered so far.
func (rs *ResultSet) Len() int {
	return len(rs.files)
}

// Files returns the entries in insertion order. The slice is a copy.
func (rs *ResultSet) Files() []DiscoveredFile {
	out := make([]DiscoveredFile, len(rs.files))
	copy(out, rs.files)
	return out
}

// Records converts the set to the downstream record shape. A file that
// escaped classification is tagged "unknown".
func (rs *ResultSet) Records() []Record {
	out := make([]Record, 0, len(rs.files))
	for _, f := range rs.files {
		typ := f.Type
		if typ == "" {
			typ = "unknown"
		}
		out = append(out, Record{
			File:   f.File,
			Type:   typ,
			URL:    f.URL,
			Source: f.Source,
		})
	}
	return out
}
