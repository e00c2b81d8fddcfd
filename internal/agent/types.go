// Package agent provides the automated responder used in AI mode.
package agent

import (
	"errors"
	"time"
)

// Backend names accepted by New.
const (
	BackendSimulated = "simulated"
	BackendGrpc      = "grpc"
	BackendHTTP      = "http"
)

var (
	errEmptyReply     = errors.New("responder returned an empty reply")
	errUnknownBackend = errors.New("unknown AI backend")
)

// ChatRequest is the body sent to an HTTP AI backend.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the body returned by an HTTP AI backend.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Config selects and configures a responder.
type Config struct {
	Backend        string
	GrpcAddr       string
	HTTPURL        string
	ReplyDelay     time.Duration
	RequestTimeout time.Duration
}
