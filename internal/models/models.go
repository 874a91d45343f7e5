// Package models defines the core data structures for CalorieCoach.
//
// It includes the API response envelope, chat channel receipts and inbound messages,
// and the coaching data model shared between the pipeline and its presentation layers.
package models

// MessageStatus is the outcome of an outbound chat message.
type MessageStatus string

const (
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusFailed MessageStatus = "failed"
)

// APIStatus is the status field of the API envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// Receipt records the outcome of one outbound chat message. To is the canonical number.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an inbound chat message. From is the canonical sender number.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIResponse is the envelope of every JSON API reply.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps a result.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage wraps a result with a human-readable message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error builds an error envelope; it never carries a result.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
