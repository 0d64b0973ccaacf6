// =============================================================================
// 📦 测试数据工厂 - 模型响应测试数据
// =============================================================================
// 提供预定义的模型响应文本，覆盖指令协议与 tool_calls JSON 格式
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// 🎯 指令响应工厂
// =============================================================================

// StageCompleteResponse 返回带完成指令的响应
func StageCompleteResponse(note string) string {
	if note == "" {
		return "Work is done.\nSTAGE_COMPLETE"
	}
	return fmt.Sprintf("Work is done.\nSTAGE_COMPLETE: %s", note)
}

// ConfirmDataResponse 返回请求数据确认的响应
func ConfirmDataResponse(question string) string {
	if question == "" {
		return "Collected the requested data.\nCONFIRM_DATA"
	}
	return fmt.Sprintf("Collected the requested data.\nCONFIRM_DATA: %s", question)
}

// RequestApprovalResponse 返回请求批准的响应
func RequestApprovalResponse(question string) string {
	if question == "" {
		return "Prepared the proposed action.\nREQUEST_APPROVAL"
	}
	return fmt.Sprintf("Prepared the proposed action.\nREQUEST_APPROVAL: %s", question)
}

// ContinuationResponse 返回宣告后续工作的响应（无指令，不应终结阶段）
func ContinuationResponse() string {
	return "First part finished. Let me now handle the remaining steps."
}

// PlainResponse 返回无指令、无续作措辞的响应（应按单轮完成处理）
func PlainResponse() string {
	return "The analysis is attached above."
}

// =============================================================================
// 🔧 tool_calls JSON 工厂
// =============================================================================

// ToolCallJSON 返回单个工具调用的 JSON 响应体
func ToolCallJSON(name string, params map[string]any) string {
	payload := map[string]any{
		"tool_calls": []map[string]any{
			{"name": name, "parameters": params},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MultiToolCallJSON 返回多个工具调用的 JSON 响应体
func MultiToolCallJSON(names ...string) string {
	calls := make([]map[string]any, len(names))
	for i, name := range names {
		calls[i] = map[string]any{"name": name, "parameters": map[string]any{}}
	}
	data, err := json.Marshal(map[string]any{"tool_calls": calls})
	if err != nil {
		panic(err)
	}
	return string(data)
}

// FencedToolCallResponse 返回嵌在围栏代码块中的工具调用响应
func FencedToolCallResponse(prose, name string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(prose)
	b.WriteString("\n```json\n")
	b.WriteString(ToolCallJSON(name, params))
	b.WriteString("\n```\n")
	return b.String()
}

// ToolLoopScript 返回一段典型的工具循环脚本：先调用工具，再完成
func ToolLoopScript(toolName string) []string {
	return []string{
		ToolCallJSON(toolName, map[string]any{"query": "status"}),
		"All operations complete.\nSTAGE_COMPLETE: tools executed",
	}
}

// =============================================================================
// 💬 人工答复样例
// =============================================================================

// AffirmativeAnswers 返回应被识别为确认的答复样例
func AffirmativeAnswers() []string {
	return []string{"yes", "Yes.", "ok", "confirmed", "да", "подтверждаю"}
}

// NegativeAnswers 返回应被识别为拒绝的答复样例
func NegativeAnswers() []string {
	return []string{"no", "No!", "wrong", "cancel", "нет", "отмена"}
}

// ModifyAnswers 返回应被识别为修改请求的答复样例
func ModifyAnswers() []string {
	return []string{
		"change the range to 14 days",
		"set 5 days starting monday",
		"use 01.09-14.09 instead",
		"поменяй на 7 дней",
	}
}
