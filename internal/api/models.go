package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/oscarAI2/llam4/internal/promptformat"
	"github.com/oscarAI2/llam4/internal/sku"
)

func (s *Server) summary(m sku.Model) ModelSummary {
	return ModelSummary{
		ID:            m.Descriptor(),
		Object:        "model",
		Family:        m.FamilyName(),
		Description:   m.Description,
		ContextLength: m.ContextLength(),
		HFRepo:        m.HuggingFaceRepo,
		Downloaded:    s.downloaded(m),
	}
}

func (s *Server) handleListModels(c *echo.Context) error {
	showAll := false
	if v := c.QueryParam("show_all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return writeAPIError(c, newInvalidRequest("show_all must be a boolean", "show_all"))
		}
		showAll = b
	}
	models := sku.Featured()
	if showAll {
		models = sku.All()
	}
	data := make([]ModelSummary, 0, len(models))
	for _, m := range models {
		data = append(data, s.summary(m))
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func (s *Server) handleGetModel(c *echo.Context) error {
	m, err := sku.Resolve(c.Param("id"))
	if err != nil {
		return writeAPIError(c, err)
	}
	return c.JSON(http.StatusOK, ModelDetail{
		ModelSummary:        s.summary(m),
		Quantization:        m.QuantizationFormat,
		ShardCount:          m.PthFileCount,
		ArchArgs:            m.ArchArgs,
		RecommendedSampling: m.RecommendedSampling,
	})
}

func (s *Server) handlePromptFormat(c *echo.Context) error {
	m, err := sku.Resolve(c.Param("id"))
	if err != nil {
		return writeAPIError(c, err)
	}
	var buf bytes.Buffer
	if err := promptformat.Render(&buf, m); err != nil {
		return writeAPIError(c, err)
	}
	return writeText(c, "text/markdown; charset=utf-8", buf.Bytes())
}
