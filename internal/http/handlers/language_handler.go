// Language and document HTTP handlers.
//
// This file exposes the auxiliary endpoints proxied to the AI backend:
//   - POST /language/detect     (identify the language of a text sample)
//   - POST /language/translate  (translate text between languages)
//   - POST /generate-document   (render a document from a template)
//
// These endpoints are stateless pass-throughs: the service layer validates
// inputs and maps AI backend failures onto the shared upstream error
// taxonomy, and the handlers translate those onto HTTP statuses.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/casemate/go-conversation-backend/internal/services"
)

// DetectLanguageRequest is the JSON payload for language detection.
type DetectLanguageRequest struct {
	// Text is the sample to analyze. It must be non-empty.
	Text string `json:"text" binding:"required,min=1" example:"नमस्ते, आप कैसे हैं?"`
}

// TranslateRequest is the JSON payload for translation.
type TranslateRequest struct {
	// Text is the content to translate. It must be non-empty.
	Text string `json:"text" binding:"required,min=1" example:"Hello, how are you?"`
	// SourceLanguage optionally names the input language (auto-detected when empty).
	SourceLanguage string `json:"source_language" example:"en"`
	// TargetLanguage is the language to translate into.
	TargetLanguage string `json:"target_language" binding:"required,min=1" example:"fr"`
}

// GenerateDocumentRequest is the JSON payload for document generation.
type GenerateDocumentRequest struct {
	// Template names the document template to render.
	Template string `json:"template" binding:"required,min=1" example:"summary"`
	// Data carries the template variables.
	Data map[string]any `json:"data"`
}

// failUpstream maps service-level AI backend failures onto HTTP statuses.
// It returns false when err is not an upstream failure.
func failUpstream(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, services.ErrUpstreamTimeout):
		fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamTimeout,
			"the AI backend took too long to respond; it may be waking up, please retry")
	case errors.Is(err, services.ErrUpstreamFailed):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "the AI backend failed to answer")
	default:
		return false
	}
	return true
}

// DetectLanguage godoc
// @ID          detectLanguage
// @Summary     Detect the language of a text
// @Description Identifies the language of the given text sample and suggests an output language.
// @Tags        Language
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.DetectLanguageRequest  true  "Text to analyze"
//
// @Success     200  {object} aiclient.DetectLanguageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "AI backend failure"
// @Failure     503  {object} handlers.ErrorResponse "AI backend timeout"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /language/detect [post]
func (h *Handlers) DetectLanguage(c *gin.Context) {
	var req DetectLanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	out, err := h.langSvc.DetectLanguage(c.Request.Context(), req.Text)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
			return
		}
		if !failUpstream(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, out)
}

// Translate godoc
// @ID          translate
// @Summary     Translate text
// @Description Translates the given text into the target language. The source language is
// @Description auto-detected when omitted.
// @Tags        Language
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.TranslateRequest  true  "Text and language pair"
//
// @Success     200  {object} aiclient.TranslateResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "AI backend failure"
// @Failure     503  {object} handlers.ErrorResponse "AI backend timeout"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /language/translate [post]
func (h *Handlers) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text and target_language required")
		return
	}

	out, err := h.langSvc.Translate(c.Request.Context(), req.Text, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
			return
		}
		if !failUpstream(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, out)
}

// GenerateDocument godoc
// @ID          generateDocument
// @Summary     Generate a document
// @Description Renders a document from the named template and data via the AI backend.
// @Tags        Documents
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.GenerateDocumentRequest  true  "Template name and data"
//
// @Success     200  {object} aiclient.DocGenResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "AI backend failure"
// @Failure     503  {object} handlers.ErrorResponse "AI backend timeout"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /generate-document [post]
func (h *Handlers) GenerateDocument(c *gin.Context) {
	var req GenerateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template required")
		return
	}

	out, err := h.langSvc.GenerateDocument(c.Request.Context(), req.Template, req.Data)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template required")
			return
		}
		if !failUpstream(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, out)
}
