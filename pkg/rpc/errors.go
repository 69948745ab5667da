package rpc

import (
	"errors"
	"fmt"
)

// ErrorKind is VoiceCI's error taxonomy (§7): a closed set of kinds, not
// Go type names, so every layer can translate an error into one without
// caring which package raised it.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindAuth               ErrorKind = "auth"
	KindConfigMissing      ErrorKind = "config_missing"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindTimeout            ErrorKind = "timeout"
	KindTransport          ErrorKind = "transport"
	KindInternal           ErrorKind = "internal"
)

// jsonRPCCode mirrors the kind to a JSON-RPC-style error code. VoiceCI
// isn't wire-compatible JSON-RPC, but the RPC surface borrows its
// code/message/data error shape (§4.8, §7).
var jsonRPCCode = map[ErrorKind]int{
	KindValidation:          -32602, // invalid params
	KindAuth:                -32001,
	KindConfigMissing:       -32002,
	KindUpstreamUnavailable: -32003,
	KindTimeout:             -32004,
	KindTransport:           -32005,
	KindInternal:            -32603,
}

// Error is a kinded, structured RPC failure. RPC surface handlers never
// retry on one of these (§7 propagation policy).
type Error struct {
	Kind    ErrorKind
	Message string
	Data    any
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func NewError(kind ErrorKind, message string) *Error { return &Error{Kind: kind, Message: message} }

func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// jsonRPCError is the wire shape returned to clients.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Data    any    `json:"data,omitempty"`
}

// toWire converts any error into the RPC surface's wire error shape,
// defaulting unrecognized errors to kind=internal (§7's "bug-class
// unexpected failures").
func toWire(err error) jsonRPCError {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return jsonRPCError{Code: jsonRPCCode[rpcErr.Kind], Message: rpcErr.Message, Kind: string(rpcErr.Kind), Data: rpcErr.Data}
	}
	return jsonRPCError{Code: jsonRPCCode[KindInternal], Message: err.Error(), Kind: string(KindInternal)}
}
