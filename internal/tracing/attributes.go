package tracing

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxLength span 属性值默认最大长度
const DefaultMaxLength = 200

const maxStatementLength = 500

// 属性名包含这些片段时值会被掩码，文件名也常带有候选人姓名
var sensitiveKeys = []string{"email", "phone", "name", "contact", "location", "token", "secret", "姓名"}

// Attr 构造字符串属性，敏感属性掩码，其余按默认长度截断
func Attr(key, value string) attribute.KeyValue {
	if isSensitive(key) {
		return attribute.String(key, Mask(value))
	}
	return attribute.String(key, Truncate(value, DefaultMaxLength))
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Mask 只保留首尾字符，"王小明" -> "王*明"，"jane@example.com" -> "j**************m"
func Mask(value string) string {
	runes := []rune(value)
	switch len(runes) {
	case 0:
		return ""
	case 1:
		return "*"
	case 2:
		return string(runes[0]) + "*"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}

// Truncate 超过 max 个字符时保留首尾，中间用 "..." 连接
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	keep := (max - 3) / 2
	return string(runes[:keep]) + "..." + string(runes[len(runes)-keep:])
}

// Statement 截断 SQL 语句
func Statement(sql string) string {
	return Truncate(sql, maxStatementLength)
}
