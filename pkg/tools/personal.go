package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
)

const (
	errNotAuthenticated = "Error: Unable to identify user. Please ensure you're properly authenticated."
	errNoDocumentID     = "Error: No document ID provided. Use list_my_documents to see your documents and their IDs."

	// Paragraph search bounds. Large uploads are embedded on the fly;
	// these keep one search call inside the embedder's request limits.
	maxSearchParagraphs    = 300
	maxParagraphEmbedChars = 8000
	maxSearchResultChars   = 10000
	maxSearchPassages      = 5
)

func personalDocMemoKey(documentID string) string {
	return "personal_doc_" + documentID
}

type documentLister interface {
	ListDocuments(ctx context.Context, fingerprint, index string) (*proxyclient.DocumentList, error)
}

type documentFetcher interface {
	GetDocumentContent(ctx context.Context, documentID, fingerprint, index string) (*proxyclient.DocumentContent, error)
}

type documentDeleter interface {
	DeleteDocument(ctx context.Context, documentID, fingerprint, index string) (*proxyclient.DeleteResult, error)
}

type paragraphEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

func apiDetail(err *proxyclient.APIError) string {
	if err.Detail == "" {
		return "Unknown error"
	}
	return err.Detail
}

type listDocumentsInput struct{}

// ListDocumentsTool lists the caller's uploads in the agent's index.
type ListDocumentsTool struct {
	proxy documentLister
}

func NewListDocumentsTool(proxy documentLister) *ListDocumentsTool {
	return &ListDocumentsTool{proxy: proxy}
}

func (t *ListDocumentsTool) NeedsIndexName()   {}
func (t *ListDocumentsTool) NeedsFingerprint() {}

func (t *ListDocumentsTool) Definition() Definition {
	return Definition{
		Name: "list_my_documents",
		Description: "List all documents the user has uploaded to their personal document index. " +
			"Returns document IDs; titles; upload dates; and page counts. " +
			"Use when the user asks about their uploaded documents.",
		InputSchema: mustSchema(listDocumentsInput{}),
	}
}

func (t *ListDocumentsTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	if inv.Fingerprint == "" {
		return errNotAuthenticated, nil
	}

	list, err := t.proxy.ListDocuments(ctx, inv.Fingerprint, inv.IndexName)
	if err != nil {
		var apiErr *proxyclient.APIError
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("Error listing documents: %s", apiDetail(apiErr)), nil
		}
		return fmt.Sprintf("Error connecting to document service: %v", err), nil
	}
	if len(list.Documents) == 0 {
		return "You haven't uploaded any documents yet. You can upload PDFs using the document upload feature.", nil
	}

	lines := []string{fmt.Sprintf("You have %d uploaded document(s):\n", len(list.Documents))}
	for i, doc := range list.Documents {
		title := doc.Title
		if title == "" {
			title = "Untitled"
		}
		id := doc.ID
		if id == "" {
			id = "unknown"
		}
		pages := "?"
		if doc.PageCount > 0 {
			pages = strconv.Itoa(doc.PageCount)
		}
		chunks := doc.ChunkCount
		if chunks == 0 {
			chunks = 1
		}
		lines = append(lines, fmt.Sprintf("%d. **%s**", i+1, title))
		lines = append(lines, fmt.Sprintf("   - Document ID: `%s`", id))
		lines = append(lines, fmt.Sprintf("   - Uploaded: %s", formatUploadDate(doc.UploadedAt)))
		lines = append(lines, fmt.Sprintf("   - Pages: %s, Chunks: %d", pages, chunks))
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n"), nil
}

func formatUploadDate(raw string) string {
	if raw == "" {
		return "unknown date"
	}
	if strings.Contains(raw, "T") {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.Format("2006-01-02 15:04")
		}
	}
	return raw
}

type fetchPersonalInput struct {
	DocumentID string `json:"document_id" jsonschema:"required,description=The ID of the document to fetch. Get this from list_my_documents or search results."`
}

// FetchPersonalDocumentTool reassembles the full text of one upload
// and primes the conversation memo so follow-up searches skip the
// round trip.
type FetchPersonalDocumentTool struct {
	proxy   documentFetcher
	charCap int
}

func NewFetchPersonalDocumentTool(proxy documentFetcher, charCap int) *FetchPersonalDocumentTool {
	if charCap <= 0 {
		charCap = 50000
	}
	return &FetchPersonalDocumentTool{proxy: proxy, charCap: charCap}
}

func (t *FetchPersonalDocumentTool) NeedsIndexName()   {}
func (t *FetchPersonalDocumentTool) NeedsFingerprint() {}
func (t *FetchPersonalDocumentTool) NeedsMemo()        {}

func (t *FetchPersonalDocumentTool) Definition() Definition {
	return Definition{
		Name: "fetch_personal_document",
		Description: "Fetch the complete text of an uploaded personal document; reassembled from all its chunks. " +
			"Use when search results point at a personal document and you need the full context; or the user asks " +
			"detailed questions about their upload. Very large documents are truncated with an offer to search the remainder. " +
			"The document content is authoritative - base your answers on what it actually says.",
		InputSchema: mustSchema(fetchPersonalInput{}),
	}
}

func (t *FetchPersonalDocumentTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in fetchPersonalInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	if inv.Fingerprint == "" {
		return errNotAuthenticated, nil
	}
	if in.DocumentID == "" {
		return errNoDocumentID, nil
	}

	doc, err := t.proxy.GetDocumentContent(ctx, in.DocumentID, inv.Fingerprint, inv.IndexName)
	if err != nil {
		return formatPersonalFetchError(err, in.DocumentID), nil
	}

	// Full text goes into the memo so search_personal_document can
	// cover the part the model never sees.
	inv.Memo.Set(personalDocMemoKey(in.DocumentID), doc.Content)

	totalChars := doc.TotalChars
	if totalChars == 0 {
		totalChars = len(doc.Content)
	}
	chunks := doc.ChunkCount
	if chunks == 0 {
		chunks = 1
	}
	pages := "unknown"
	if doc.PageCount > 0 {
		pages = strconv.Itoa(doc.PageCount)
	}
	title := doc.Title
	if title == "" {
		title = "Untitled"
	}

	lines := []string{
		fmt.Sprintf("## %s", title),
		fmt.Sprintf("**Document ID:** `%s`", in.DocumentID),
		fmt.Sprintf("**Pages:** %s | **Chunks:** %d | **Total characters:** %s", pages, chunks, groupThousands(totalChars)),
		"",
		"---",
		"",
	}
	if len(doc.Content) > t.charCap {
		lines = append(lines, clip(doc.Content, t.charCap))
		lines = append(lines, "")
		lines = append(lines, "---")
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("**[Document truncated at %s characters. Full document is %s characters.]**",
			groupThousands(t.charCap), groupThousands(totalChars)))
		lines = append(lines, "")
		lines = append(lines, "I can search the full document for specific topics. What would you like me to find?")
	} else {
		lines = append(lines, doc.Content)
	}
	return strings.Join(lines, "\n"), nil
}

func formatPersonalFetchError(err error, documentID string) string {
	switch {
	case proxyclient.IsNotFound(err):
		return fmt.Sprintf("Document with ID `%s` was not found. Use list_my_documents to see your uploaded documents.", documentID)
	case proxyclient.IsForbidden(err):
		return "You don't have permission to access this document. You can only access documents you uploaded."
	}
	var apiErr *proxyclient.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Error fetching document: %s", apiDetail(apiErr))
	}
	return fmt.Sprintf("Error connecting to document service: %v", err)
}

type searchPersonalInput struct {
	DocumentID string `json:"document_id" jsonschema:"required,description=The ID of the document to search. Fetched automatically if not already loaded."`
	Query      string `json:"query" jsonschema:"required,description=The topic or question or concept to search for in the document"`
}

// SearchPersonalDocumentTool ranks the paragraphs of one upload
// against a query by embedding similarity. It reads the conversation
// memo and fetches the document first when cold.
type SearchPersonalDocumentTool struct {
	proxy documentFetcher
	emb   paragraphEmbedder
}

func NewSearchPersonalDocumentTool(proxy documentFetcher, emb paragraphEmbedder) *SearchPersonalDocumentTool {
	return &SearchPersonalDocumentTool{proxy: proxy, emb: emb}
}

func (t *SearchPersonalDocumentTool) NeedsIndexName()   {}
func (t *SearchPersonalDocumentTool) NeedsFingerprint() {}
func (t *SearchPersonalDocumentTool) NeedsMemo()        {}

func (t *SearchPersonalDocumentTool) Definition() Definition {
	return Definition{
		Name: "search_personal_document",
		Description: "Semantically search within one personal document for specific topics. " +
			"Use when fetch_personal_document returned truncated content and the answer may be in the remainder; " +
			"or to find all mentions of a concept throughout a document. " +
			"Returns the most relevant passages with surrounding context.",
		InputSchema: mustSchema(searchPersonalInput{}),
	}
}

func (t *SearchPersonalDocumentTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in searchPersonalInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	if inv.Fingerprint == "" {
		return errNotAuthenticated, nil
	}
	if in.DocumentID == "" {
		return "Error: No document ID provided.", nil
	}
	if in.Query == "" {
		return "Error: No search query provided. Please specify what you want to find in the document.", nil
	}

	memoKey := personalDocMemoKey(in.DocumentID)
	text, ok := inv.Memo.Get(memoKey)
	if !ok {
		doc, err := t.proxy.GetDocumentContent(ctx, in.DocumentID, inv.Fingerprint, inv.IndexName)
		if err != nil {
			return formatPersonalFetchError(err, in.DocumentID), nil
		}
		text = doc.Content
		inv.Memo.Set(memoKey, text)
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return fmt.Sprintf("No relevant passages found for '%s' in this document.", in.Query), nil
	}

	queryVec, err := t.emb.EmbedQuery(ctx, in.Query)
	if err != nil {
		return fmt.Sprintf("Error searching document: %v", err), nil
	}
	embedTexts := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		embedTexts[i] = clip(p, maxParagraphEmbedChars)
	}
	paraVecs, err := t.emb.EmbedDocuments(ctx, embedTexts)
	if err != nil {
		return fmt.Sprintf("Error searching document: %v", err), nil
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(paragraphs))
	for i := range paragraphs {
		if i >= len(paraVecs) {
			break
		}
		ranked = append(ranked, scored{idx: i, score: cosineSimilarity(queryVec, paraVecs[i])})
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	header := fmt.Sprintf("## Search Results for: %s\n\n**Document:** %s\n\n---\n", in.Query, in.DocumentID)
	lines := []string{header}
	used := make(map[int]bool)
	total := len(header)
	passages := 0

	for _, cand := range ranked {
		if passages >= maxSearchPassages {
			break
		}
		lo := cand.idx - 1
		if lo < 0 {
			lo = 0
		}
		hi := cand.idx + 1
		if hi >= len(paragraphs) {
			hi = len(paragraphs) - 1
		}
		var parts []string
		for j := lo; j <= hi; j++ {
			if used[j] {
				continue
			}
			parts = append(parts, paragraphs[j])
			used[j] = true
		}
		if len(parts) == 0 {
			continue
		}
		block := fmt.Sprintf("\n**[Relevance: %.2f]**\n\n%s\n\n---", cand.score, strings.Join(parts, "\n\n"))
		if passages > 0 && total+len(block) > maxSearchResultChars {
			break
		}
		lines = append(lines, block)
		total += len(block)
		passages++
	}

	if passages == 0 {
		return fmt.Sprintf("No relevant passages found for '%s' in this document.", in.Query), nil
	}
	return strings.Join(lines, "\n"), nil
}

// splitParagraphs breaks document text on blank lines, dropping
// fragments too short to carry meaning.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) < 20 {
			continue
		}
		out = append(out, p)
		if len(out) >= maxSearchParagraphs {
			break
		}
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type deleteDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"required,description=The ID of the document to delete. Get this from list_my_documents."`
}

// DeleteDocumentTool removes one upload and all of its chunks.
type DeleteDocumentTool struct {
	proxy documentDeleter
}

func NewDeleteDocumentTool(proxy documentDeleter) *DeleteDocumentTool {
	return &DeleteDocumentTool{proxy: proxy}
}

func (t *DeleteDocumentTool) NeedsIndexName()   {}
func (t *DeleteDocumentTool) NeedsFingerprint() {}

func (t *DeleteDocumentTool) Definition() Definition {
	return Definition{
		Name: "delete_my_document",
		Description: "Delete a document from the user's personal document index. " +
			"Requires the document_id from list_my_documents. " +
			"Use only when the user explicitly asks to remove one of their uploaded documents.",
		InputSchema: mustSchema(deleteDocumentInput{}),
	}
}

func (t *DeleteDocumentTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var in deleteDocumentInput
	if err := decodeArgs(inv.Args, &in); err != nil {
		return "", err
	}
	if inv.Fingerprint == "" {
		return errNotAuthenticated, nil
	}
	if in.DocumentID == "" {
		return errNoDocumentID, nil
	}

	res, err := t.proxy.DeleteDocument(ctx, in.DocumentID, inv.Fingerprint, inv.IndexName)
	if err != nil {
		switch {
		case proxyclient.IsNotFound(err):
			return fmt.Sprintf("Document with ID `%s` was not found. It may have already been deleted, or you may not have permission to delete it.", in.DocumentID), nil
		case proxyclient.IsForbidden(err):
			return "You don't have permission to delete this document. You can only delete documents you uploaded.", nil
		}
		var apiErr *proxyclient.APIError
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("Error deleting document: %s", apiDetail(apiErr)), nil
		}
		return fmt.Sprintf("Error connecting to document service: %v", err), nil
	}

	if res.ChunksDeleted > 0 {
		return fmt.Sprintf("Successfully deleted document `%s` and all its chunks (%d chunk(s) removed).", in.DocumentID, res.ChunksDeleted), nil
	}
	return fmt.Sprintf("Document `%s` was not found or has already been deleted.", in.DocumentID), nil
}
