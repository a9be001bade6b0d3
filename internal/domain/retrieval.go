package domain

// RetrievedChunk is one similarity-search hit: a chunk plus its score and
// the document it came from.
type RetrievedChunk struct {
	Chunk         Chunk
	Score         float32
	DocumentSlug  string
	DocumentTitle string
}

// RetrievalResult is the transient, per-query output of the retriever.
// It is consumed once to build a prompt and then discarded; only the chunk
// IDs actually used survive for audit.
type RetrievalResult struct {
	Chunks      []RetrievedChunk
	PerDocument map[string]int // slug -> hit count
	FailedDocs  []string       // slugs whose retrieval failed; remaining docs still served
}

// DocumentCount returns how many distinct documents contributed chunks.
func (r *RetrievalResult) DocumentCount() int {
	return len(r.PerDocument)
}

// UsedChunkIDs returns the IDs of all retrieved chunks, for audit logging.
func (r *RetrievalResult) UsedChunkIDs() []string {
	ids := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		ids = append(ids, c.Chunk.ID)
	}
	return ids
}
