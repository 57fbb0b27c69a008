package mcp

import (
	"strings"

	"google.golang.org/genai"
)

// Separator joins a provider name and a tool name into the qualified name
// the model sees. Splitting happens on the first occurrence only, so tool
// names containing the separator survive.
const Separator = "__"

// QualifyName builds the qualified tool name for a provider's tool.
func QualifyName(provider, tool string) string {
	return SanitizeFunctionName(provider + Separator + tool)
}

// SplitQualified splits a qualified name into provider and local tool name.
// A name with no separator belongs to the built-in provider and is returned
// with an empty provider.
func SplitQualified(name string) (provider, tool string) {
	if i := strings.Index(name, Separator); i >= 0 {
		return name[:i], name[i+len(Separator):]
	}
	return "", name
}

// ConvertSchema converts an MCP JSON Schema to the declaration schema form.
func ConvertSchema(s *JSONSchema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{Description: s.Description}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
		out.Enum = s.Enum
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = ConvertSchema(s.Items)
		}
	case "object":
		out.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				out.Properties[name] = ConvertSchema(prop)
			}
		}
		out.Required = s.Required
	default:
		out.Type = genai.TypeString
	}
	return out
}

// ConvertTool converts a provider tool description into a function
// declaration under its qualified name.
func ConvertTool(provider string, tool *ToolInfo) *genai.FunctionDeclaration {
	if tool == nil {
		return nil
	}
	return &genai.FunctionDeclaration{
		Name:        QualifyName(provider, tool.Name),
		Description: tool.Description,
		Parameters:  ConvertSchema(tool.InputSchema),
	}
}

// SanitizeFunctionName coerces a name into the character set function
// declarations accept: [a-zA-Z_][a-zA-Z0-9_]*.
func SanitizeFunctionName(name string) string {
	if name == "" {
		return "unnamed_tool"
	}

	result := make([]byte, 0, len(name))
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_':
			result = append(result, byte(c))
		case c >= '0' && c <= '9':
			if i == 0 {
				result = append(result, '_')
			}
			result = append(result, byte(c))
		case c == '-' || c == '.' || c == ' ':
			result = append(result, '_')
		}
	}
	if len(result) == 0 {
		return "unnamed_tool"
	}
	return string(result)
}

// FormatContentBlocks flattens tool-result content blocks to text.
func FormatContentBlocks(blocks []*ContentBlock) string {
	if len(blocks) == 0 {
		return "(no output)"
	}

	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case "image":
			parts = append(parts, "[image: "+block.MIMEType+"]")
		case "resource":
			parts = append(parts, "[resource: "+block.URI+"]")
		default:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}
