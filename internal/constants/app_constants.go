package constants

import "sort"

// 文档处理状态
const (
	StatusQueued        = "QUEUED"
	StatusProcessing    = "PROCESSING"
	StatusProcessed     = "PROCESSED"
	StatusNeedsReview   = "NEEDS_REVIEW"
	StatusParseFailed   = "PARSE_FAILED"
	StatusPersistFailed = "PERSIST_FAILED"
)

// 消息事件类型
const (
	EventDocumentSubmitted = "document.submitted"
)

// AllowedStatusesForProcessing 可以进入流水线的文档状态，用于消费端幂等
var AllowedStatusesForProcessing = map[string]bool{
	StatusQueued:        true,
	StatusParseFailed:   true,
	StatusPersistFailed: true,
}

// IsStatusAllowed 检查状态是否在允许集合中
func IsStatusAllowed(status string, allowed map[string]bool) bool {
	return allowed[status]
}

// AllowedStatusList 以切片形式返回允许的状态，供 SQL IN 条件使用
func AllowedStatusList(allowed map[string]bool) []string {
	out := make([]string, 0, len(allowed))
	for s, ok := range allowed {
		if ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// 对象存储中的产物文件名
const (
	ObjectProfileJSON = "profile.json"
	ObjectParsedText  = "parsed_text.txt"
)

// TaskEntityDetection LLM 实体识别任务名，用于选择任务专用模型
const TaskEntityDetection = "entity_detection"
