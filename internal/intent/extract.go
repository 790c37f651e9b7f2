package intent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// rawIntent 是从模型输出中解析出的未校验字段。
type rawIntent struct {
	FromToken string          `json:"from_token"`
	ToToken   string          `json:"to_token"`
	Amount    json.RawMessage `json:"amount"`
	DEX       string          `json:"dex"`
	Slippage  json.RawMessage `json:"slippage"`
}

var fallbackPattern = regexp.MustCompile(`(?i)\b(?:from|swap|convert|exchange)\s+(\d+(?:\.\d+)?)?\s*([A-Za-z][A-Za-z0-9]*)\s+(?:to|for|into)\s+([A-Za-z][A-Za-z0-9]*)`)

// lineComment 匹配模型在 JSON 中常见的 // 注释。
var lineComment = regexp.MustCompile(`(?m)\s*//[^\n"]*$`)

// extractJSON 返回文本中最后一个括号平衡的 JSON 对象。
func extractJSON(text string) (string, bool) {
	end := -1
	depth := 0
	inString := false
	for i := len(text) - 1; i >= 0; i-- {
		c := text[i]
		if inString {
			if c == '"' && !escaped(text, i) {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}':
			if depth == 0 {
				end = i
			}
			depth++
		case '{':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && end >= 0 {
				return text[i : end+1], true
			}
		}
	}
	return "", false
}

func escaped(text string, i int) bool {
	backslashes := 0
	for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
		backslashes++
	}
	return backslashes%2 == 1
}

// decodeRaw 从模型输出解析 rawIntent。
func decodeRaw(text string) (rawIntent, bool) {
	object, ok := extractJSON(text)
	if !ok {
		return rawIntent{}, false
	}
	var raw rawIntent
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		cleaned := lineComment.ReplaceAllString(object, "")
		if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
			return rawIntent{}, false
		}
	}
	if strings.TrimSpace(raw.FromToken) == "" && strings.TrimSpace(raw.ToToken) == "" {
		return rawIntent{}, false
	}
	return raw, true
}

// parseFallback 直接从请求文本中按固定句式提取换币要素。
func parseFallback(text string) (rawIntent, bool) {
	match := fallbackPattern.FindStringSubmatch(text)
	if match == nil {
		return rawIntent{}, false
	}
	raw := rawIntent{FromToken: match[2], ToToken: match[3]}
	if match[1] != "" {
		raw.Amount = json.RawMessage(match[1])
	}
	return raw, true
}

// rawScalar 将 JSON 数字或字符串统一为文本，null 返回空串。
func rawScalar(raw json.RawMessage) string {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return value
}
