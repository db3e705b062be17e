package models

// VerifyRequest represents a request to verify one certificate's alignment
type VerifyRequest struct {
	Fields           map[string]string `json:"fields" binding:"required"`
	ComputePixelDiff bool              `json:"compute_pixel_diff,omitempty"`
}

// BatchVerifyRequest represents a request to verify several certificates in
// one call
type BatchVerifyRequest struct {
	Items []VerifyRequest `json:"items" binding:"required"`
}

// BatchItemResult pairs one batch item with its outcome. Exactly one of
// Result and Error is set.
type BatchItemResult struct {
	Index  int                 `json:"index"`
	Result *VerificationResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// BatchVerifyResponse represents the per-item outcomes of a batch request,
// in the same order as the request items
type BatchVerifyResponse struct {
	Results []BatchItemResult `json:"results"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
