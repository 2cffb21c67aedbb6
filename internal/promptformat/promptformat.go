// Package promptformat renders the prompt-format reference document for a
// catalog model.
package promptformat

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/sku"
)

var ErrNoPromptFormat = errors.New("no prompt format documented for this model")

//go:embed templates/*.tmpl
var templateFS embed.FS

var docTemplate = template.Must(template.New("promptformat").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl"))

type token struct {
	Literal     string
	Description string
}

type example struct {
	Title  string
	Notes  string
	Prompt string
}

type document struct {
	Model      sku.Model
	Intro      string
	Tokens     []token
	Examples   []example
	Instruct   bool
	StopTokens []string
}

var tokenDescriptions = map[string]string{
	chatformat.BeginOfText: "First token of every prompt.",
	"<|header_start|>":     "Opens the role header of a message.",
	"<|header_end|>":       "Closes the role header. A blank line follows for Llama 3.",
	"<|start_header_id|>":  "Opens the role header of a message.",
	"<|end_header_id|>":    "Closes the role header, followed by a blank line.",
	"<|eot|>":              "End of turn. The model is done and control returns to the user.",
	"<|eot_id|>":           "End of turn. The model is done and control returns to the user.",
	"<|eom|>":              "End of message. The model expects a tool result before continuing.",
	"<|eom_id|>":           "End of message. The model expects a tool result before continuing.",
	"<|python_start|>":     "Starts a tool call.",
	"<|python_end|>":       "Ends a tool call.",
	"<|python_tag|>":       "Starts a tool call; the call ends at <|eom_id|>.",
	"<s>":                  "Beginning of sequence.",
	"</s>":                 "End of sequence.",
	"[INST]":               "Opens a user instruction.",
	"[/INST]":              "Closes a user instruction.",
	"<<SYS>>":              "Opens the system prompt inside the first instruction.",
	"<</SYS>>":             "Closes the system prompt.",
}

// Render writes the markdown prompt-format guide for m.
func Render(w io.Writer, m sku.Model) error {
	if m.Family == sku.FamilySafety {
		return fmt.Errorf("%w: %s", ErrNoPromptFormat, m.Descriptor())
	}
	doc, err := build(m)
	if err != nil {
		return err
	}
	return docTemplate.ExecuteTemplate(w, "prompt_format", doc)
}

func build(m sku.Model) (document, error) {
	format := chatformat.ForModel(m)
	doc := document{Model: m, Instruct: m.IsInstructModel()}

	for _, lit := range chatformat.Tokens(format) {
		doc.Tokens = append(doc.Tokens, token{Literal: lit, Description: tokenDescriptions[lit]})
	}
	switch format {
	case chatformat.FormatLlama2:
		doc.Intro = "Llama 2 chat models wrap each user turn in [INST] tags; a system prompt sits inside the first turn."
		doc.StopTokens = []string{"`</s>`"}
	case chatformat.FormatLlama3:
		doc.Intro = "Llama 3.x models frame each message with a role header and end it with an end-of-turn token."
		doc.StopTokens = []string{"`<|eot_id|>`", "`<|eom_id|>`"}
	default:
		doc.Intro = m.FamilyName() + " models frame each message with a role header. Text after `<|header_end|>` is the message body."
		doc.StopTokens = []string{"`<|eot|>`", "`<|eom|>`"}
	}

	for _, ex := range examples(format) {
		prompt, err := chatformat.Render(chatformat.RenderOptions{Format: format, Messages: ex.messages, AddGenerationPrompt: true})
		if err != nil {
			return document{}, fmt.Errorf("render example %q: %w", ex.title, err)
		}
		doc.Examples = append(doc.Examples, example{Title: ex.title, Notes: ex.notes, Prompt: prompt})
	}
	return doc, nil
}

type dialogExample struct {
	title    string
	notes    string
	messages []chatformat.Message
}

func examples(f chatformat.Format) []dialogExample {
	out := []dialogExample{
		{
			title: "user and assistant conversation",
			notes: "A plain conversation. The prompt ends with an open assistant header so the model answers next.",
			messages: []chatformat.Message{
				{Role: chatformat.RoleSystem, Content: "You are a helpful assistant."},
				{Role: chatformat.RoleUser, Content: "Answer who are you in the form of jeopardy?"},
			},
		},
	}
	if f == chatformat.FormatLlama2 {
		return out
	}
	out = append(out, dialogExample{
		title: "tool calling",
		notes: "When the assistant calls a tool its message ends with end-of-message instead of end-of-turn. " +
			"The tool result comes back in an ipython message.",
		messages: []chatformat.Message{
			{Role: chatformat.RoleUser, Content: "What is the weather in SF?"},
			{Role: chatformat.RoleAssistant, ToolCalls: []chatformat.ToolCall{{
				ToolName:  "get_weather",
				Arguments: map[string]any{"city": "San Francisco"},
			}}},
			{Role: chatformat.RoleIPython, Content: `{"temperature": 18, "unit": "celsius"}`},
		},
	})
	return out
}
