package domain

import (
	"strings"
	"time"
)

// Capability tags what a registered downstream server can do. Values match
// the wire shape used by the admin endpoints.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityImage      Capability = "image"
	CapabilityTTS        Capability = "tts"
	CapabilityTranscribe Capability = "transcribe"
	CapabilityTranslate  Capability = "translate"
)

// AllCapabilities lists every capability a server can declare.
var AllCapabilities = []Capability{
	CapabilityChat, CapabilityEmbeddings, CapabilityImage,
	CapabilityTTS, CapabilityTranscribe, CapabilityTranslate,
}

func ParseCapability(s string) (Capability, bool) {
	switch Capability(strings.ToLower(s)) {
	case CapabilityChat, CapabilityEmbeddings, CapabilityImage,
		CapabilityTTS, CapabilityTranscribe, CapabilityTranslate:
		return Capability(strings.ToLower(s)), true
	}
	return "", false
}

type ServerHealth struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
}

// RegisteredServer is one downstream model server known to the registry.
type RegisteredServer struct {
	ID     string       `json:"id"`
	URL    string       `json:"url"`
	APIKey string       `json:"api_key,omitempty"`
	Kind   []Capability `json:"kind"`
	Health ServerHealth `json:"health"`
}

func (s *RegisteredServer) Has(kind Capability) bool {
	for _, k := range s.Kind {
		if k == kind {
			return true
		}
	}
	return false
}

// BearerToken returns the Authorization header value for the server's key,
// prefixing "Bearer " when the stored key lacks it. Empty when no key is set.
func (s *RegisteredServer) BearerToken() string {
	if s.APIKey == "" {
		return ""
	}
	if strings.HasPrefix(s.APIKey, "Bearer ") {
		return s.APIKey
	}
	return "Bearer " + s.APIKey
}

// Model is one entry of a server's advertised model list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
