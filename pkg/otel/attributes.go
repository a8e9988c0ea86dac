package otel

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys for the relay gateway.
const (
	AttrSessionID           = "session.id"
	AttrUserID              = "user.id"
	AttrConversationID      = "conversation.id"
	AttrMessageID           = "message.id"
	AttrRequestID           = "request.id"
	AttrRequestType         = "request.type"
	AttrLLMModel            = "llm.model"
	AttrLLMProvider         = "llm.provider"
	AttrLLMPromptTokens     = "llm.usage.prompt_tokens"
	AttrLLMCompletionTokens = "llm.usage.completion_tokens"
	AttrLLMTotalTokens      = "llm.usage.total_tokens"
	AttrToolName            = "tool.name"
	AttrToolServer          = "tool.server"
	AttrToolStatus          = "tool.status"
	AttrServerID            = "server.id"
	AttrServerURL           = "server.url"
	AttrRetrievalModality   = "retrieval.modality"
	AttrRetrievalPoints     = "retrieval.points"
	AttrChatMode            = "chat.mode"
	AttrReactIteration      = "react.iteration"
)

func SessionID(id string) attribute.KeyValue      { return attribute.String(AttrSessionID, id) }
func UserID(id string) attribute.KeyValue         { return attribute.String(AttrUserID, id) }
func ConversationID(id string) attribute.KeyValue { return attribute.String(AttrConversationID, id) }
func MessageID(id string) attribute.KeyValue      { return attribute.String(AttrMessageID, id) }
func RequestID(id string) attribute.KeyValue      { return attribute.String(AttrRequestID, id) }
func RequestType(t string) attribute.KeyValue     { return attribute.String(AttrRequestType, t) }

func LLMModel(model string) attribute.KeyValue       { return attribute.String(AttrLLMModel, model) }
func LLMProvider(provider string) attribute.KeyValue { return attribute.String(AttrLLMProvider, provider) }
func LLMPromptTokens(n int) attribute.KeyValue       { return attribute.Int(AttrLLMPromptTokens, n) }
func LLMCompletionTokens(n int) attribute.KeyValue   { return attribute.Int(AttrLLMCompletionTokens, n) }
func LLMTotalTokens(n int) attribute.KeyValue        { return attribute.Int(AttrLLMTotalTokens, n) }

func ToolName(name string) attribute.KeyValue     { return attribute.String(AttrToolName, name) }
func ToolServer(name string) attribute.KeyValue   { return attribute.String(AttrToolServer, name) }
func ToolStatus(status string) attribute.KeyValue { return attribute.String(AttrToolStatus, status) }

func ServerID(id string) attribute.KeyValue   { return attribute.String(AttrServerID, id) }
func ServerURL(url string) attribute.KeyValue { return attribute.String(AttrServerURL, url) }

func RetrievalModality(m string) attribute.KeyValue { return attribute.String(AttrRetrievalModality, m) }
func RetrievalPoints(n int) attribute.KeyValue      { return attribute.Int(AttrRetrievalPoints, n) }

func ChatMode(mode string) attribute.KeyValue { return attribute.String(AttrChatMode, mode) }
func ReactIteration(n int) attribute.KeyValue { return attribute.Int(AttrReactIteration, n) }
