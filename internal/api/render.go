package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/sku"
	"github.com/oscarAI2/llam4/internal/tokenizer"
)

func (s *Server) handleRender(c *echo.Context) error {
	m, err := sku.Resolve(c.Param("id"))
	if err != nil {
		return writeAPIError(c, err)
	}
	req, err := decodeJSON[RenderRequest](c.Request().Body)
	if err != nil {
		return writeAPIError(c, err)
	}
	if len(req.Messages) == 0 {
		return writeAPIError(c, newInvalidRequest("messages must not be empty", "messages"))
	}

	addGen := true
	if req.AddGenerationPrompt != nil {
		addGen = *req.AddGenerationPrompt
	}
	format := chatformat.ForModel(m)
	prompt, err := chatformat.Render(chatformat.RenderOptions{Format: format, Messages: req.Messages, AddGenerationPrompt: addGen})
	if err != nil {
		return writeAPIError(c, err)
	}
	s.metrics.renders.WithLabelValues(string(format)).Inc()

	resp := RenderResponse{
		ID:     "render_" + uuid.NewString(),
		Model:  m.Descriptor(),
		Format: string(format),
		Prompt: prompt,
	}
	if req.Tokenize {
		if !s.downloaded(m) {
			return writeAPIError(c, fmt.Errorf("%w: %s (tokenization needs its tokenizer.model)", ErrNotDownloaded, m.Descriptor()))
		}
		tok, err := s.loadTokenizer(filepath.Join(s.modelDir(m), "tokenizer.model"), format)
		if err != nil {
			if !errors.Is(err, tokenizer.ErrUnsupportedFormat) {
				logger.FromContext(c.Request().Context()).Error("load tokenizer", "model", m.Descriptor(), "error", err)
			}
			return writeAPIError(c, err)
		}
		resp.Tokens = tok.EncodeDialog(prompt)
	}
	return c.JSON(http.StatusOK, resp)
}
