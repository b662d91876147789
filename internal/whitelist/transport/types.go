package transport

// UpdateThresholdRequest is the request body for updating the whitelist threshold.
type UpdateThresholdRequest struct {
	Threshold string `json:"threshold"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
