package api

// CompletionFlags is the subset of a completion/chat/embedding request body
// the front reads before forwarding it unchanged.
type CompletionFlags struct {
	Model  string `json:"model,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// ModelInfo represents a model in the /v1/models response.
type ModelInfo struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	OwnedBy     string `json:"owned_by"`
	Permissions []any  `json:"permissions"`
}

// ModelListResponse is the response for GET /v1/models.
type ModelListResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// TokenizeRequest is the body of POST /extras/tokenize and
// /extras/tokenize/count.
type TokenizeRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

// TokenizeResponse is returned by POST /extras/tokenize.
type TokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// TokenizeCountResponse is returned by POST /extras/tokenize/count.
type TokenizeCountResponse struct {
	Count int `json:"count"`
}

// DetokenizeRequest is the body of POST /extras/detokenize.
type DetokenizeRequest struct {
	Model  string `json:"model,omitempty"`
	Tokens []int  `json:"tokens"`
}

// DetokenizeResponse is returned by POST /extras/detokenize.
type DetokenizeResponse struct {
	Text string `json:"text"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
