// Package transport provides HTTP request/response types for the aggregation domain.
package transport

// SubmitResponse acknowledges an accepted attestation.
type SubmitResponse struct {
	Status   string `json:"status"`
	VendorID string `json:"vendorId"`
	Address  string `json:"address"`
	Epoch    string `json:"epoch"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
