package api

import (
	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/sku"
)

type ErrorBody struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type ModelSummary struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Family        string `json:"family"`
	Description   string `json:"description"`
	ContextLength string `json:"context_length"`
	HFRepo        string `json:"huggingface_repo,omitempty"`
	Downloaded    bool   `json:"downloaded"`
}

type ModelList struct {
	Object string         `json:"object"`
	Data   []ModelSummary `json:"data"`
}

type ModelDetail struct {
	ModelSummary
	Quantization        sku.CheckpointQuantizationFormat `json:"quantization_format"`
	ShardCount          int                              `json:"shard_count"`
	ArchArgs            map[string]any                   `json:"arch_args"`
	RecommendedSampling sku.SamplingParams               `json:"recommended_sampling"`
}

type RenderRequest struct {
	Messages            []chatformat.Message `json:"messages"`
	AddGenerationPrompt *bool                `json:"add_generation_prompt,omitempty"`
	Tokenize            bool                 `json:"tokenize,omitempty"`
}

type RenderResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Format string `json:"format"`
	Prompt string `json:"prompt"`
	Tokens []int  `json:"tokens,omitempty"`
}
