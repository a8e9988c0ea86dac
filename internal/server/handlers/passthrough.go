package handlers

import (
	"log/slog"
	"net/http"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/proxy"
)

// Picker selects a downstream server per capability. *registry.Registry
// satisfies it.
type Picker interface {
	Pick(kind domain.Capability) (*domain.RegisteredServer, error)
}

// noServerMessages holds the exact wording existing clients match on.
var noServerMessages = map[domain.Capability]string{
	domain.CapabilityEmbeddings: "No embedding server available. Please register a embedding server via the `/admin/servers/register` endpoint.",
	domain.CapabilityTranscribe: "No transcribe server available",
	domain.CapabilityTranslate:  "No translate server available",
	domain.CapabilityTTS:        "No tts server available",
	domain.CapabilityImage:      "No image server available",
}

// PassthroughHandler relays non-chat OpenAI endpoints verbatim: the inbound
// body streams through untouched (multipart included) and the downstream
// status, filtered headers and body come back as-is.
type PassthroughHandler struct {
	picker    Picker
	forwarder *proxy.Forwarder
	logger    *slog.Logger
}

func NewPassthroughHandler(picker Picker, forwarder *proxy.Forwarder, logger *slog.Logger) *PassthroughHandler {
	return &PassthroughHandler{picker: picker, forwarder: forwarder, logger: logger}
}

func (h *PassthroughHandler) Embeddings(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, domain.CapabilityEmbeddings, "/embeddings")
}

func (h *PassthroughHandler) Transcriptions(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, domain.CapabilityTranscribe, "/audio/transcriptions")
}

func (h *PassthroughHandler) Translations(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, domain.CapabilityTranslate, "/audio/translations")
}

func (h *PassthroughHandler) Speech(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, domain.CapabilityTTS, "/audio/speech")
}

func (h *PassthroughHandler) Images(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, domain.CapabilityImage, "/images/generations")
}

func (h *PassthroughHandler) relay(w http.ResponseWriter, r *http.Request, kind domain.Capability, path string) {
	srv, err := h.picker.Pick(kind)
	if err != nil {
		h.logger.Error("no downstream server for capability",
			"capability", kind, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, noServerMessages[kind], http.StatusInternalServerError)
		return
	}

	h.logger.Info("forwarding passthrough request",
		"capability", kind, "server_id", srv.ID, "path", path,
		"request_id", RequestIDFromContext(r.Context()))

	resp, err := h.forwarder.Forward(r.Context(), proxy.Request{
		Server:      srv,
		Capability:  kind,
		Path:        path,
		Header:      r.Header,
		ContentType: r.Header.Get("Content-Type"),
		Body:        r.Body,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
