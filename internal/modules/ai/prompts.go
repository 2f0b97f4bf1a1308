package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Category is the coarse file class that selects a prompt and schema.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
)

// CategoryOf classifies by MIME prefix alone; anything not image/* is a document.
func CategoryOf(mimeType string) Category {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return CategoryImage
	}
	return CategoryDocument
}

// SchemaType mirrors the JSON schema primitive names.
type SchemaType string

const (
	TypeObject SchemaType = "object"
	TypeString SchemaType = "string"
	TypeArray  SchemaType = "array"
)

// Schema is a provider-neutral JSON schema for structured output.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	// Order preserves property order for providers that honor it.
	Order []string `json:"-"`
}

// StructuredPrompt pairs an instruction with the schema the answer must satisfy.
type StructuredPrompt struct {
	Instruction string
	Schema      *Schema
}

type field struct {
	name        string
	typ         SchemaType
	description string
	example     interface{}
}

var imageFields = []field{
	{"description", TypeString, "A detailed description of what the image shows.", "A detailed description of the image."},
	{"main_subject", TypeString, "The primary subject or focal point of the image.", "The main subject."},
	{"elements", TypeArray, "Notable objects, people, text or other elements visible in the image.", []string{"element one", "element two"}},
	{"mood_style", TypeString, "The overall mood, artistic style or atmosphere.", "The mood and visual style."},
}

var documentFields = []field{
	{"summary", TypeString, "A concise summary of the document's content.", "A concise summary of the document."},
	{"key_points", TypeArray, "The most important points, facts or findings.", []string{"key point one", "key point two"}},
	{"document_type", TypeString, "The kind of document, for example report, invoice, article or code.", "The type of document."},
	{"sentiment", TypeString, "The overall tone or sentiment of the document.", "positive | neutral | negative"},
}

var reasoningField = field{"reasoning", TypeString, "Step-by-step reasoning that led to this analysis.", "Explain how you arrived at this analysis."}

func fieldsFor(category Category, withReasoning bool) []field {
	base := documentFields
	if category == CategoryImage {
		base = imageFields
	}
	out := make([]field, 0, len(base)+1)
	out = append(out, base...)
	if withReasoning {
		out = append(out, reasoningField)
	}
	return out
}

func subjectFor(category Category) string {
	if category == CategoryImage {
		return "image"
	}
	return "document"
}

// BuildStructuredPrompt returns the instruction and response schema used with
// providers that support constrained JSON output.
func BuildStructuredPrompt(mimeType string, withReasoning bool) StructuredPrompt {
	category := CategoryOf(mimeType)
	fields := fieldsFor(category, withReasoning)

	schema := &Schema{
		Type:       TypeObject,
		Properties: make(map[string]*Schema, len(fields)),
		Required:   make([]string, 0, len(fields)),
		Order:      make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		prop := &Schema{Type: f.typ, Description: f.description}
		if f.typ == TypeArray {
			prop.Items = &Schema{Type: TypeString}
		}
		schema.Properties[f.name] = prop
		schema.Required = append(schema.Required, f.name)
		schema.Order = append(schema.Order, f.name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the attached %s and describe it thoroughly.", subjectFor(category))
	b.WriteString(" Fill every field of the response schema.")
	if withReasoning {
		b.WriteString(" Include your step-by-step reasoning in the reasoning field.")
	}
	return StructuredPrompt{Instruction: b.String(), Schema: schema}
}

// BuildLegacyPrompt returns a single instruction that embeds the expected JSON
// shape, for providers without schema-constrained output.
func BuildLegacyPrompt(mimeType string, withReasoning bool) string {
	category := CategoryOf(mimeType)
	fields := fieldsFor(category, withReasoning)

	var skeleton bytes.Buffer
	skeleton.WriteString("{\n")
	for i, f := range fields {
		val, _ := json.Marshal(f.example)
		fmt.Fprintf(&skeleton, "  %q: %s", f.name, val)
		if i < len(fields)-1 {
			skeleton.WriteString(",")
		}
		skeleton.WriteString("\n")
	}
	skeleton.WriteString("}")

	var b strings.Builder
	fmt.Fprintf(&b, "Role: Expert %s analyst.\n\n", subjectFor(category))
	b.WriteString("IMPORTANT: Your response MUST be only the JSON object below.\n")
	b.WriteString("ABSOLUTE: DO NOT wrap the JSON in markdown/code fences and DO NOT add commentary.\n\n")
	fmt.Fprintf(&b, "## Task\nAnalyze the provided %s.\n\n", subjectFor(category))
	b.WriteString("## Fields\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %s\n", f.name, f.description)
	}
	b.WriteString("\n## Output JSON Format\n")
	b.Write(skeleton.Bytes())
	return b.String()
}

// NormalizeAnalysis tidies a model answer. JSON answers, with or without
// code fences, are re-indented; anything else is returned trimmed.
func NormalizeAnalysis(raw string) string {
	var obj map[string]interface{}
	if err := decodeModelJSON(raw, &obj); err != nil {
		return strings.TrimSpace(raw)
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return string(out)
}

var fieldTitles = map[string]string{
	"description":   "Description",
	"main_subject":  "Main Subject",
	"elements":      "Elements",
	"mood_style":    "Mood & Style",
	"summary":       "Summary",
	"key_points":    "Key Points",
	"document_type": "Document Type",
	"sentiment":     "Sentiment",
	"reasoning":     "Reasoning",
}

// FormatAnalysis renders a JSON analysis as markdown sections in the order of
// the category's fields. Non-JSON text is returned trimmed.
func FormatAnalysis(mimeType, analysis string) string {
	var obj map[string]interface{}
	if err := decodeModelJSON(analysis, &obj); err != nil {
		return strings.TrimSpace(analysis)
	}
	var b strings.Builder
	seen := make(map[string]bool, len(obj))
	for _, f := range fieldsFor(CategoryOf(mimeType), true) {
		v, ok := obj[f.name]
		if !ok {
			continue
		}
		seen[f.name] = true
		writeSection(&b, fieldTitles[f.name], v)
	}
	for k, v := range obj {
		if !seen[k] {
			writeSection(&b, k, v)
		}
	}
	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, title string, v interface{}) {
	fmt.Fprintf(b, "### %s\n", title)
	switch val := v.(type) {
	case []interface{}:
		for _, item := range val {
			fmt.Fprintf(b, "- %v\n", item)
		}
	default:
		fmt.Fprintf(b, "%v\n", val)
	}
	b.WriteString("\n")
}

// decodeModelJSON decodes an analysis that a model was asked to return as
// JSON. Models often wrap it in a markdown fence or add a sentence around it,
// so the outermost object is tried when the whole text does not parse.
func decodeModelJSON(raw string, out interface{}) error {
	text := strings.TrimSpace(raw)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if rest, ok := strings.CutPrefix(text, fence); ok {
			text = rest
			break
		}
	}
	text = strings.TrimSpace(strings.TrimSuffix(text, "```"))

	if json.Unmarshal([]byte(text), out) == nil {
		return nil
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if json.Unmarshal([]byte(text[start:end+1]), out) == nil {
			return nil
		}
	}
	return errors.New("model did not return a JSON analysis")
}
