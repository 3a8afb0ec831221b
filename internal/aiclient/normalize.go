// Response normalization.
//
// The upstream shapes disagree about where the display text lives and how
// tool usage is reported. The methods in this file flatten any Response into
// the single representation the rest of the system persists: display text,
// optional session/document ids, and a compact metadata summary.
//
// All of them are pure and total: malformed or missing fields degrade to an
// empty string / empty summary instead of returning an error, because a
// best-effort assistant message beats losing the exchange.
package aiclient

import (
	"encoding/json"
	"math"
	"strings"
)

// Text extracts the display text for the assistant message.
//
// The shape-appropriate primary field is used first (agent_response for
// upload-and-chat, response otherwise). A blank primary falls back to the
// result of the first intermediate step. Structured values are decomposed:
// an "answer" field wins (with an appended sources block), then a nested
// "response", then the JSON serialization of the whole value.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}

	var primary json.RawMessage
	switch r.Kind {
	case KindUploadAndChat:
		if r.Upload != nil {
			primary = r.Upload.AgentResponse
		}
	case KindAgentChat:
		if r.Agent != nil {
			primary = r.Agent.Response
		}
	default:
		if r.Chat != nil {
			return r.Chat.Response
		}
		return ""
	}

	if isBlankRaw(primary) {
		if steps := r.steps(); len(steps) > 0 && len(steps[0].Result) > 0 {
			primary = steps[0].Result
		}
	}
	return flattenValue(primary)
}

// SessionID returns the upstream session id, or "" for shapes without one.
func (r *Response) SessionID() string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case KindUploadAndChat:
		if r.Upload != nil {
			return r.Upload.SessionID
		}
	case KindAgentChat:
		if r.Agent != nil {
			return r.Agent.SessionID
		}
	}
	return ""
}

// DocumentID returns the uploaded document id, or "" for shapes without one.
func (r *Response) DocumentID() string {
	if r == nil {
		return ""
	}
	if r.Kind == KindUploadAndChat && r.Upload != nil {
		return r.Upload.DocumentID
	}
	return ""
}

// MetadataSummary builds the compact tool-usage record persisted on the
// assistant message.
//
// Each intermediate step contributes its tool name plus any of query_time,
// chunks_used, and total_chunks found in its result. When no intermediate
// steps exist, the flat tools_used string list is wrapped as {tool: name}
// entries instead. Aggregates: total_query_time is the 2-decimal-rounded sum
// of all query times (omitted when zero) and total_chunks the maximum seen
// (omitted when zero). Upload shapes additionally record their document id.
func (r *Response) MetadataSummary() map[string]any {
	summary := map[string]any{
		"tools_used": []map[string]any{},
	}
	if r == nil {
		return summary
	}

	steps := r.steps()
	details := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		tool := step.Tool
		if tool == "" {
			tool = "unknown"
		}
		info := map[string]any{"tool": tool}
		var result map[string]any
		if len(step.Result) > 0 && json.Unmarshal(step.Result, &result) == nil {
			for _, k := range []string{"query_time", "chunks_used", "total_chunks"} {
				if v, ok := result[k]; ok {
					info[k] = v
				}
			}
		}
		details = append(details, info)
	}

	if len(details) > 0 {
		summary["tools_used"] = details
	} else {
		flat := make([]map[string]any, 0, len(r.toolNames()))
		for _, name := range r.toolNames() {
			flat = append(flat, map[string]any{"tool": name})
		}
		summary["tools_used"] = flat
	}

	if r.Kind == KindUploadAndChat && r.Upload != nil {
		summary["document_id"] = r.Upload.DocumentID
	}

	var totalQueryTime float64
	var maxTotalChunks float64
	for _, info := range details {
		if v, ok := info["query_time"].(float64); ok {
			totalQueryTime += v
		}
		if v, ok := info["total_chunks"].(float64); ok && v > maxTotalChunks {
			maxTotalChunks = v
		}
	}
	if totalQueryTime > 0 {
		summary["total_query_time"] = math.Round(totalQueryTime*100) / 100
	}
	if maxTotalChunks > 0 {
		summary["total_chunks"] = maxTotalChunks
	}

	return summary
}

// steps returns the intermediate steps for shapes that carry them.
func (r *Response) steps() []IntermediateStep {
	switch r.Kind {
	case KindUploadAndChat:
		if r.Upload != nil {
			return r.Upload.IntermediateSteps
		}
	case KindAgentChat:
		if r.Agent != nil {
			return r.Agent.IntermediateSteps
		}
	}
	return nil
}

// toolNames returns the flat tools_used list for shapes that carry it.
func (r *Response) toolNames() []string {
	switch r.Kind {
	case KindUploadAndChat:
		if r.Upload != nil {
			return r.Upload.ToolsUsed
		}
	case KindAgentChat:
		if r.Agent != nil {
			return r.Agent.ToolsUsed
		}
	}
	return nil
}

// isBlankRaw reports whether raw is absent, JSON null, or a blank string.
func isBlankRaw(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// flattenValue turns a raw JSON value into display text. Strings pass
// through; objects are decomposed (answer + sources, then response, then the
// serialized object); anything else serializes compactly.
func flattenValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if answer, ok := obj["answer"]; ok && answer != nil {
			content := stringify(answer)
			if sources, ok := obj["sources"]; ok && sources != nil {
				content += "\n\n**Sources:**\n" + stringify(sources)
			}
			return content
		}
		if resp, ok := obj["response"]; ok && resp != nil {
			return stringify(resp)
		}
	}

	return compactRaw(raw)
}

// stringify renders a decoded JSON value as display text: strings verbatim,
// everything else via json.Marshal.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// compactRaw serializes raw JSON without insignificant whitespace.
func compactRaw(raw json.RawMessage) string {
	var buf strings.Builder
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	buf.Write(b)
	return buf.String()
}
