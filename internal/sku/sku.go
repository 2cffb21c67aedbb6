// Package sku is the catalog of Llama models known to llama-model: their
// identifiers, families, checkpoint layout and architecture hyperparameters.
package sku

import (
	"fmt"
	"path/filepath"
	"strings"
)

type ModelFamily string

const (
	FamilyLlama2  ModelFamily = "llama2"
	FamilyLlama3  ModelFamily = "llama3"
	FamilyLlama31 ModelFamily = "llama3_1"
	FamilyLlama32 ModelFamily = "llama3_2"
	FamilyLlama33 ModelFamily = "llama3_3"
	FamilyLlama4  ModelFamily = "llama4"
	FamilySafety  ModelFamily = "safety"
)

var familyNames = map[ModelFamily]string{
	FamilyLlama2:  "Llama 2",
	FamilyLlama3:  "Llama 3",
	FamilyLlama31: "Llama 3.1",
	FamilyLlama32: "Llama 3.2",
	FamilyLlama33: "Llama 3.3",
	FamilyLlama4:  "Llama 4",
	FamilySafety:  "Llama Guard",
}

// DisplayName is the human readable family name, e.g. "Llama 4".
func (f ModelFamily) DisplayName() string {
	if n, ok := familyNames[f]; ok {
		return n
	}
	return string(f)
}

// CheckpointQuantizationFormat describes how weights are stored on disk.
type CheckpointQuantizationFormat string

const (
	FormatBF16     CheckpointQuantizationFormat = "bf16"
	FormatFP8Mixed CheckpointQuantizationFormat = "fp8_mixed"
	FormatInt4     CheckpointQuantizationFormat = "int4"
	FormatInt8     CheckpointQuantizationFormat = "int8"
)

// SamplingStrategy selects how generation picks the next token.
type SamplingStrategy string

const (
	SamplingGreedy SamplingStrategy = "greedy"
	SamplingTopP   SamplingStrategy = "top_p"
)

type SamplingParams struct {
	Strategy          SamplingStrategy `json:"strategy"`
	Temperature       float64          `json:"temperature,omitempty"`
	TopP              float64          `json:"top_p,omitempty"`
	RepetitionPenalty float64          `json:"repetition_penalty,omitempty"`
}

// Model is one downloadable checkpoint.
type Model struct {
	CoreModelID         string                       `json:"core_model_id"`
	Family              ModelFamily                  `json:"family"`
	Variant             string                       `json:"variant,omitempty"`
	Description         string                       `json:"description"`
	HuggingFaceRepo     string                       `json:"huggingface_repo,omitempty"`
	ArchArgs            map[string]any               `json:"arch_args"`
	QuantizationFormat  CheckpointQuantizationFormat `json:"quantization_format"`
	PthFileCount        int                          `json:"pth_file_count"`
	RecommendedSampling SamplingParams               `json:"recommended_sampling"`
	MaxSeqLength        int                          `json:"max_seq_length"`
	Instruct            bool                         `json:"instruct"`
}

// Descriptor is the user facing model id. Variants are appended after a
// colon, e.g. "Llama3.1-405B-Instruct:bf16-mp8".
func (m Model) Descriptor() string {
	if m.Variant == "" {
		return m.CoreModelID
	}
	return m.CoreModelID + ":" + m.Variant
}

func (m Model) FamilyName() string { return m.Family.DisplayName() }

// IsFeatured reports whether the model is listed without --show-all.
func (m Model) IsFeatured() bool {
	switch m.Family {
	case FamilyLlama31, FamilyLlama32, FamilyLlama33, FamilyLlama4, FamilySafety:
		return true
	}
	return false
}

func (m Model) IsInstructModel() bool { return m.Instruct }

// ContextLength renders MaxSeqLength the way model cards do ("128K").
func (m Model) ContextLength() string {
	if m.MaxSeqLength >= 1024 && m.MaxSeqLength%1024 == 0 {
		return fmt.Sprintf("%dK", m.MaxSeqLength/1024)
	}
	return fmt.Sprintf("%d", m.MaxSeqLength)
}

// ModelCheckpointDir is where a model lives under the checkpoint root.
// Colons are not portable in file names and are replaced.
func ModelCheckpointDir(root, descriptor string) string {
	return filepath.Join(root, strings.ReplaceAll(descriptor, ":", "-"))
}
