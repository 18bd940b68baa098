package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resume-matcher/internal/types"
)

// DefaultDetectorMaxChars 单次送入模型的最大字符数，超出部分只交给规则层
const DefaultDetectorMaxChars = 6000

const detectorSystemPrompt = `You extract entities from one section of a resume.
Reply with a single JSON object: {"entities":[{"kind":"...","text":"...","confidence":0.0}]}
Allowed kinds: name, email, phone, skill, organization, degree, date_range, title, location.
"text" must be copied verbatim from the input. "confidence" is between 0 and 1.
Return {"entities":[]} when nothing is found.`

// LLMEntityDetector 使用对话模型识别章节中的实体
type LLMEntityDetector struct {
	chatModel model.BaseChatModel
	maxChars  int
	logger    *log.Logger
}

// DetectorOption LLM 识别器配置选项
type DetectorOption func(*LLMEntityDetector)

// WithDetectorMaxChars 设置单次送入模型的最大字符数
func WithDetectorMaxChars(n int) DetectorOption {
	return func(d *LLMEntityDetector) {
		if n > 0 {
			d.maxChars = n
		}
	}
}

// WithDetectorLogger 设置日志记录器
func WithDetectorLogger(logger *log.Logger) DetectorOption {
	return func(d *LLMEntityDetector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewLLMEntityDetector 创建 LLM 实体识别器
func NewLLMEntityDetector(chatModel model.BaseChatModel, options ...DetectorOption) (*LLMEntityDetector, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model 不能为空")
	}
	d := &LLMEntityDetector{
		chatModel: chatModel,
		maxChars:  DefaultDetectorMaxChars,
		logger:    log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(d)
	}
	return d, nil
}

type llmEntity struct {
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type llmEntities struct {
	Entities []llmEntity `json:"entities"`
}

// Detect 实现 extractor.EntityDetector。
// 模型返回的文本片段按出现顺序定位到原文，找不到的片段丢弃。
func (d *LLMEntityDetector) Detect(ctx context.Context, text string) ([]types.Detection, error) {
	input := truncateRunes(text, d.maxChars)
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	messages := []*schema.Message{
		schema.SystemMessage(detectorSystemPrompt),
		schema.UserMessage(input),
	}
	resp, err := d.chatModel.Generate(ctx, messages, model.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("LLM 实体识别失败: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, nil
	}

	jsonStr := extractJSONObject(strings.TrimPrefix(resp.Content, "\uFEFF"))
	if jsonStr == "" {
		return nil, fmt.Errorf("LLM 响应中没有 JSON 对象: %.200s", resp.Content)
	}
	var parsed llmEntities
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("解析 LLM 响应失败: %w", err)
	}

	detections := locateEntities(input, parsed.Entities)
	d.logger.Printf("LLM 识别到 %d 个实体，定位成功 %d 个", len(parsed.Entities), len(detections))
	return detections, nil
}

// locateEntities 把模型给出的片段映射为原文中的字节区间。
// 同一片段多次出现时依次取下一个未使用的位置。
func locateEntities(text string, entities []llmEntity) []types.Detection {
	next := make(map[string]int)
	out := make([]types.Detection, 0, len(entities))
	for _, ent := range entities {
		kind := types.EntityKind(strings.ToLower(strings.TrimSpace(ent.Kind)))
		surface := strings.TrimSpace(ent.Text)
		if !kind.Valid() || surface == "" {
			continue
		}
		from := next[surface]
		if from >= len(text) {
			continue
		}
		idx := strings.Index(text[from:], surface)
		if idx < 0 {
			continue
		}
		start := from + idx
		end := start + len(surface)
		next[surface] = end
		out = append(out, types.Detection{
			Span:       types.Span{Start: start, End: end},
			Kind:       kind,
			Confidence: ent.Confidence,
		})
	}
	return out
}

// extractJSONObject 取出文本中第一个完整的 JSON 对象，兼容模型包裹的 markdown 代码块
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inStr:
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			level++
		case c == '}':
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
