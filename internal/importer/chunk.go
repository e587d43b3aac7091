package importer

// ChunkPlan is one chunk of an import: rows [Start, End) of the valid
// record set.
type ChunkPlan struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
	Rows  int `json:"rows"`
}

// PlanChunks splits n rows into sequential chunks of at most size rows.
func PlanChunks(n, size int) []ChunkPlan {
	if n <= 0 || size <= 0 {
		return nil
	}
	plan := make([]ChunkPlan, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		plan = append(plan, ChunkPlan{Index: len(plan), Start: start, End: end, Rows: end - start})
	}
	return plan
}
