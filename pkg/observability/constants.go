package observability

const (
	AttrAgentName      = "agent.name"
	AttrConversationID = "conversation.id"
	AttrToolName       = "tool.name"
	AttrLLMModel       = "llm.model"
	AttrIndexName      = "index.name"
	AttrDocType        = "doc.type"
	AttrDocumentID     = "document.id"
	AttrErrorType      = "error.type"
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"

	SpanTurn           = "agent.turn"
	SpanLLMRequest     = "agent.llm_request"
	SpanToolExecution  = "agent.tool_execution"
	SpanIndexJob       = "index.job"
	SpanDocumentUpload = "document.upload"
	SpanHTTPRequest    = "http.request"
)
