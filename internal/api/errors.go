package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/promptformat"
	"github.com/oscarAI2/llam4/internal/sku"
	"github.com/oscarAI2/llam4/internal/tokenizer"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotDownloaded  = errors.New("model not downloaded")
)

type invalidRequestError struct {
	msg   string
	param string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg, param string) error {
	return invalidRequestError{msg: msg, param: param}
}

// writeAPIError maps domain errors onto status codes and error types.
func writeAPIError(c *echo.Context, err error) error {
	var inv invalidRequestError
	switch {
	case errors.As(err, &inv):
		return writeError(c, http.StatusBadRequest, "invalid_request_error", inv.msg, inv.param, "")
	case errors.Is(err, sku.ErrUnknownModel), errors.Is(err, promptformat.ErrNoPromptFormat):
		return writeNotFound(c, err.Error())
	case errors.Is(err, chatformat.ErrUnknownRole):
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "messages", "")
	case errors.Is(err, tokenizer.ErrUnsupportedFormat):
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "tokenize", "")
	case errors.Is(err, ErrNotDownloaded):
		return writeError(c, http.StatusConflict, "model_not_downloaded", err.Error(), "tokenize", "")
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
}
