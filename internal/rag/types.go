package rag

// Event names the workflow functions subscribe to.
const (
	EventIngestPDF = "rag/ingest_pdf"
	EventQueryPDF  = "rag/query_pdf_ai"
)

// Function ids, stable across deploys; run records reference them.
const (
	FunctionIngestID = "rag-ingest-pdf"
	FunctionQueryID  = "rag-query-pdf-ai"
)

// IngestEvent is the payload of a rag/ingest_pdf event.
type IngestEvent struct {
	PDFPath  string `json:"pdf_path"`
	SourceID string `json:"source_id,omitempty"`
}

// QueryEvent is the payload of a rag/query_pdf_ai event.
type QueryEvent struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// IngestResult is the output of a finished ingest run.
type IngestResult struct {
	Ingested int `json:"ingested"`
}

// QueryResult is the output of a finished query run.
type QueryResult struct {
	Answer      string   `json:"answer"`
	Sources     []string `json:"sources"`
	NumContexts int      `json:"num_contexts"`
}
