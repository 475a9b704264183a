package proxyclient

// SearchRequest is a proxy search. The proxy adds the ownership filter
// itself; callers only say who is asking.
type SearchRequest struct {
	Query       string `json:"query"`
	Index       string `json:"index"`
	Fingerprint string `json:"fingerprint"`
	Top         int    `json:"top"`
	DocType     string `json:"doc_type,omitempty"`
}

// SearchHit is one ranked result. Content is truncated by the proxy
// for response size; fetch endpoints return full text.
type SearchHit struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Content          string  `json:"content"`
	Source           string  `json:"source"`
	DocType          string  `json:"doc_type,omitempty"`
	Citation         string  `json:"citation,omitempty"`
	OwnerFingerprint string  `json:"owner_fingerprint,omitempty"`
	Score            float64 `json:"score,omitempty"`
}

// SearchResponse holds ranked hits.
type SearchResponse struct {
	Results    []SearchHit `json:"results"`
	TotalCount int         `json:"total_count"`
}

// Chunk is one document chunk to index. OwnerFingerprint nil marks
// regulatory content visible to every user; the proxy only accepts
// that from callers presenting the service key.
type Chunk struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Source           string    `json:"source"`
	DocType          string    `json:"doc_type"`
	Citation         string    `json:"citation,omitempty"`
	OwnerFingerprint *string   `json:"owner_fingerprint"`
	UploadedAt       string    `json:"uploaded_at"`
	PageCount        int       `json:"page_count,omitempty"`
	FileHash         string    `json:"file_hash,omitempty"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// IndexRequest writes chunks to one index. Fingerprint must match
// every chunk's owner; it is empty for regulatory writes.
type IndexRequest struct {
	Index       string  `json:"index"`
	Fingerprint string  `json:"fingerprint"`
	Documents   []Chunk `json:"documents"`
}

// IndexResult reports per-chunk outcomes.
type IndexResult struct {
	IndexedCount int      `json:"indexed_count"`
	FailedCount  int      `json:"failed_count"`
	Errors       []string `json:"errors"`
}

// DocumentInfo is one uploaded document in a listing, grouped from its
// chunks.
type DocumentInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Filename   string `json:"filename,omitempty"`
	UploadedAt string `json:"uploaded_at"`
	PageCount  int    `json:"page_count,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	FileHash   string `json:"file_hash,omitempty"`
}

// DocumentList is the /documents response.
type DocumentList struct {
	Documents  []DocumentInfo `json:"documents"`
	TotalCount int            `json:"total_count"`
}

// DocumentContent is a personal document reassembled from its chunks
// in order.
type DocumentContent struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	PageCount  int    `json:"page_count,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	UploadedAt string `json:"uploaded_at"`
	TotalChars int    `json:"total_chars"`
	Truncated  bool   `json:"truncated"`
}

// DeleteResult reports a document deletion.
type DeleteResult struct {
	Status        string `json:"status"`
	DocumentID    string `json:"document_id"`
	ChunksDeleted int    `json:"chunks_deleted"`
}
