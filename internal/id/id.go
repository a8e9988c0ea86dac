// Package id provides ID generation helpers used across the gateway.
package id

import (
	"encoding/hex"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixRequest  = "req"
	PrefixServer   = "srv"
	PrefixToolCall = "call"
	PrefixResponse = "resp"
	PrefixOutput   = "msg"
)

func gen(length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return id
}

func New(prefix string) string {
	return prefix + "_" + gen(DefaultLength)
}

func NewWithLength(prefix string, length int) string {
	return prefix + "_" + gen(length)
}

func NewRequest() string  { return New(PrefixRequest) }
func NewServer() string   { return New(PrefixServer) }
func NewToolCall() string { return New(PrefixToolCall) }

// NewSimple returns prefix_<32 hex chars>, the dashless UUID form the
// Responses API uses on the wire.
func NewSimple(prefix string) string {
	u := uuid.New()
	return prefix + "_" + hex.EncodeToString(u[:])
}

// NewResponse returns a Responses API response ID.
func NewResponse() string { return NewSimple(PrefixResponse) }

// NewOutput returns a Responses API output item ID.
func NewOutput() string { return NewSimple(PrefixOutput) }

// NewChat returns a chat completion ID in the OpenAI wire format.
func NewChat() string { return "chatcmpl-" + gen(DefaultLength) }
