package ws

import (
	"encoding/json"
	"errors"

	"github.com/stratumd/backend/internal/pubsub"
)

// Stratum error codes.
const (
	ErrCodeOther             = 20
	ErrCodeAlreadySubscribed = 22
	ErrCodeUnauthorized      = 24
	ErrCodeNotSubscribed     = 25
	ErrCodeParse             = -32700
	ErrCodeMethodNotFound    = -32601
	ErrCodeInvalidParams     = -32602
)

// Request is a client-to-server JSON-RPC call.
type Request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Response answers a Request. Exactly one of Result and Error is non-null.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Notification is a one-way server-to-client message; its id is always null.
type Notification struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// RPCError is encoded as the stratum triple [code, message, traceback].
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return e.Message }

func (e *RPCError) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Code, e.Message, nil})
}

func (e *RPCError) UnmarshalJSON(data []byte) error {
	var triple []json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if len(triple) < 2 {
		return errors.New("error triple too short")
	}
	if err := json.Unmarshal(triple[0], &e.Code); err != nil {
		return err
	}
	return json.Unmarshal(triple[1], &e.Message)
}

// rpcError maps registry errors to their stratum codes.
func rpcError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, pubsub.ErrNotConnected), errors.Is(err, pubsub.ErrNoSession):
		return &RPCError{Code: ErrCodeUnauthorized, Message: err.Error()}
	case errors.Is(err, pubsub.ErrAlreadySubscribed):
		return &RPCError{Code: ErrCodeAlreadySubscribed, Message: err.Error()}
	case errors.Is(err, pubsub.ErrNotSubscribed):
		return &RPCError{Code: ErrCodeNotSubscribed, Message: err.Error()}
	case errors.Is(err, pubsub.ErrNoEvent):
		return &RPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: ErrCodeOther, Message: err.Error()}
	}
}

type resultKind int

const (
	resultReply resultKind = iota
	resultError
	resultSubscribe
	resultUnsubscribe
)

// Result is what a method handler asks the dispatcher to do.
type Result struct {
	kind  resultKind
	value any
	err   *RPCError
	sub   *pubsub.Subscription
	key   string
}

// Reply answers the request with v.
func Reply(v any) Result {
	return Result{kind: resultReply, value: v}
}

// Fail answers the request with an error.
func Fail(code int, message string) Result {
	return Result{kind: resultError, err: &RPCError{Code: code, Message: message}}
}

// SubscribeTo registers sub for the calling connection and answers with its
// [[event, key]] handle.
func SubscribeTo(sub *pubsub.Subscription) Result {
	return Result{kind: resultSubscribe, sub: sub}
}

// UnsubscribeFrom removes the calling connection's subscription with key and
// answers true or false.
func UnsubscribeFrom(key string) Result {
	return Result{kind: resultUnsubscribe, key: key}
}
