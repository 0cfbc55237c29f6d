package conductor

// MergeContext returns a new map containing base overlaid with updates.
// The merge is shallow: later keys overwrite earlier ones wholesale. This
// is the only channel for cross-step data passing.
func MergeContext(base, updates map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// CopyMap returns a shallow copy of m. A nil input yields an empty map so
// callers never write into shared state.
func CopyMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
