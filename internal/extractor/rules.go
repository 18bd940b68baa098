package extractor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"

	"resume-matcher/internal/types"
)

const (
	ruleConfidence      = 1.0 // 邮箱、电话
	dateRangeConfidence = 0.9
	degreeConfidence    = 0.7
	headerNameConf      = 0.6
	labelledLocConf     = 0.8 // "Location: Berlin, Germany"
	layoutConfidence    = 0.5 // 根据版式推断的机构、职位
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d \t().\-]{6,}\d`)

	datePart      = `(?:(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}|\d{1,2}/\d{4}|\d{4})`
	dateRangeExpr = regexp.MustCompile(`(?i)\b` + datePart + `\s*(?:-|–|—|to|until)\s*(?:` + datePart + `|present|current|now|today|ongoing)\b`)
	yearPattern   = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

	degreePattern = regexp.MustCompile(`(?i)\b(?:ph\.?\s?d|doctorate|m\.?\s?sc|m\.?\s?s\.|m\.?\s?eng|mba|master(?:'s)?(?:\s+of\s+\w+)?|b\.?\s?sc|b\.?\s?s\.|b\.?\s?eng|b\.?\s?a\.|bachelor(?:'s)?(?:\s+of\s+\w+)?|associate(?:'s)?\s+degree)`)

	layoutSeparator = regexp.MustCompile(`\s*(?:,|\||·|•|—|–|\s-\s|\s@\s|\sat\s)\s*`)
	tokenPattern    = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}+#.]*`)

	locationLabel    = regexp.MustCompile(`(?i)^\s*(?:(?:location|address|city)\s*[:：]|based\s+in\b)\s*(.+?)\s*$`)
	placeWords       = `\p{Lu}[\p{L}.'\-]*(?:\s+\p{Lu}[\p{L}.'\-]*){0,2}`
	placePattern     = regexp.MustCompile(`^` + placeWords + `,\s*` + placeWords + `$`)
	contactSeparator = regexp.MustCompile(`\s*(?:\||·|•|;)\s*`)
)

// headerLocationLines 文档开头参与地点识别的行数
const headerLocationLines = 6

// lineSpan 章节文本中的一行及其起始偏移
type lineSpan struct {
	text   string
	offset int
}

func splitLines(text string) []lineSpan {
	var out []lineSpan
	offset := 0
	for _, l := range strings.Split(text, "\n") {
		out = append(out, lineSpan{text: l, offset: offset})
		offset += len(l) + 1
	}
	return out
}

// matchContacts 正则识别邮箱和电话，可信度固定为1.0
func matchContacts(text, region string) []types.ExtractedEntity {
	var out []types.ExtractedEntity
	emailSpans := emailPattern.FindAllStringIndex(text, -1)
	for _, loc := range emailSpans {
		out = append(out, types.ExtractedEntity{
			Kind:       types.EntityEmail,
			Value:      strings.ToLower(text[loc[0]:loc[1]]),
			Confidence: ruleConfidence,
			Offset:     loc[0],
		})
	}

	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		raw := strings.TrimSpace(text[loc[0]:loc[1]])
		if overlaps(loc, emailSpans) || dateRangeExpr.MatchString(raw) {
			continue
		}
		digits := countDigits(raw)
		if digits < 10 || digits > 15 {
			continue
		}
		out = append(out, types.ExtractedEntity{
			Kind:       types.EntityPhone,
			Value:      normalizePhone(raw, region),
			Confidence: ruleConfidence,
			Offset:     loc[0],
		})
	}
	return out
}

// normalizePhone 能解析的号码统一为 E.164，否则去掉多余空白后原样保留
func normalizePhone(raw, region string) string {
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, region)
	if err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	return strings.Join(strings.Fields(raw), " ")
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func overlaps(loc []int, spans [][]int) bool {
	for _, s := range spans {
		if loc[0] < s[1] && s[0] < loc[1] {
			return true
		}
	}
	return false
}

// matchDateRanges 识别 "Jan 2018 - Present"、"2018-2020"、"03/2019 – 06/2021" 等区间。
// 教育章节中单独出现的年份也作为区间（起止相同）。
func matchDateRanges(text string, label types.SectionLabel) []types.ExtractedEntity {
	var out []types.ExtractedEntity
	ranges := dateRangeExpr.FindAllStringIndex(text, -1)
	for _, loc := range ranges {
		out = append(out, types.ExtractedEntity{
			Kind:       types.EntityDateRange,
			Value:      text[loc[0]:loc[1]],
			Confidence: dateRangeConfidence,
			Offset:     loc[0],
		})
	}
	if label != types.SectionEducation {
		return out
	}
	for _, loc := range yearPattern.FindAllStringIndex(text, -1) {
		if overlaps(loc, ranges) {
			continue
		}
		out = append(out, types.ExtractedEntity{
			Kind:       types.EntityDateRange,
			Value:      text[loc[0]:loc[1]],
			Confidence: dateRangeConfidence,
			Offset:     loc[0],
		})
	}
	return out
}

// matchLayout 根据经历/教育章节的版式推断机构、职位和学位。
// 典型行: "Acme Corp, Senior Engineer, 2018 - 2020" 或日期单独占一行。
func matchLayout(text string, label types.SectionLabel) []types.ExtractedEntity {
	if label != types.SectionExperience && label != types.SectionEducation {
		return nil
	}
	lines := splitLines(text)
	var out []types.ExtractedEntity

	for i, line := range lines {
		if isBullet(line.text) {
			continue
		}
		anchored := dateRangeExpr.MatchString(line.text) || (label == types.SectionEducation && yearPattern.MatchString(line.text))
		stripped := strings.TrimSpace(yearPattern.ReplaceAllString(dateRangeExpr.ReplaceAllString(line.text, ""), ""))
		if stripped == "" || strings.Trim(stripped, ",|-–— ") == "" {
			continue
		}
		// 下一行是纯日期行时，本行是该段经历的标题行
		if !anchored && i+1 < len(lines) {
			next := strings.TrimSpace(dateRangeExpr.ReplaceAllString(lines[i+1].text, ""))
			anchored = dateRangeExpr.MatchString(lines[i+1].text) && strings.Trim(next, ",|-–— ") == ""
		}
		if !anchored {
			continue
		}

		var parts []string
		for _, p := range layoutSeparator.Split(stripped, -1) {
			if p = strings.Trim(p, " ,|-–—()"); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}

		if label == types.SectionEducation {
			out = append(out, educationParts(parts, line)...)
			continue
		}
		out = append(out, types.ExtractedEntity{
			Kind: types.EntityOrganization, Value: parts[0], Confidence: layoutConfidence, Offset: line.offset,
		})
		if len(parts) > 1 {
			out = append(out, types.ExtractedEntity{
				Kind: types.EntityTitle, Value: parts[1], Confidence: layoutConfidence, Offset: line.offset + 1,
			})
		}
	}
	return out
}

func educationParts(parts []string, line lineSpan) []types.ExtractedEntity {
	var out []types.ExtractedEntity
	institutionSeen := false
	for i, p := range parts {
		if degreePattern.MatchString(p) {
			out = append(out, types.ExtractedEntity{
				Kind: types.EntityDegree, Value: p, Confidence: degreeConfidence, Offset: line.offset + i,
			})
			continue
		}
		if !institutionSeen {
			institutionSeen = true
			out = append(out, types.ExtractedEntity{
				Kind: types.EntityOrganization, Value: p, Confidence: layoutConfidence, Offset: line.offset + i,
			})
		}
	}
	return out
}

func isBullet(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "•") || strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || strings.HasPrefix(t, "▪")
}

// matchHeaderName 文档开头的短行（2-4个首字母大写的单词，无数字和@）视为姓名
func matchHeaderName(text string, label types.SectionLabel, sectionIndex int) []types.ExtractedEntity {
	if sectionIndex != 0 || (label != types.SectionSummary && label != types.SectionOther && label != types.SectionContact) {
		return nil
	}
	first := splitLines(text)[0]
	words := strings.Fields(first.text)
	if len(words) < 2 || len(words) > 4 {
		return nil
	}
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsUpper(r[0]) {
			return nil
		}
		for _, c := range r {
			if !unicode.IsLetter(c) && c != '-' && c != '\'' && c != '.' {
				return nil
			}
		}
	}
	return []types.ExtractedEntity{{
		Kind: types.EntityName, Value: strings.Join(words, " "), Confidence: headerNameConf, Offset: first.offset,
	}}
}

// matchLocation 识别候选人所在地。带标签的行（"Location: ..."）在任何章节都识别；
// 无标签的 "City, Region" 只在文档开头和联系方式章节中识别。
func matchLocation(text string, label types.SectionLabel, sectionIndex int) []types.ExtractedEntity {
	header := label == types.SectionContact ||
		(sectionIndex == 0 && (label == types.SectionSummary || label == types.SectionOther))

	var out []types.ExtractedEntity
	for i, line := range splitLines(text) {
		if m := locationLabel.FindStringSubmatchIndex(line.text); m != nil {
			value := contactSeparator.Split(line.text[m[2]:m[3]], 2)[0]
			if value = strings.Trim(value, " ,"); value != "" {
				out = append(out, types.ExtractedEntity{
					Kind: types.EntityLocation, Value: value, Confidence: labelledLocConf, Offset: line.offset + m[2],
				})
			}
			continue
		}
		if !header || i >= headerLocationLines {
			continue
		}
		for _, part := range contactSeparator.Split(line.text, -1) {
			part = strings.TrimSpace(part)
			if part == "" || strings.ContainsAny(part, "@0123456789") || !placePattern.MatchString(part) {
				continue
			}
			out = append(out, types.ExtractedEntity{
				Kind: types.EntityLocation, Value: part, Confidence: layoutConfidence, Offset: line.offset + strings.Index(line.text, part),
			})
		}
	}
	return out
}

// token 章节文本中的一个词及其偏移
type token struct {
	text   string
	offset int
}

func tokenize(text string) []token {
	var out []token
	for _, loc := range tokenPattern.FindAllStringIndex(text, -1) {
		t := strings.TrimRight(text[loc[0]:loc[1]], ".")
		if t == "" {
			continue
		}
		out = append(out, token{text: t, offset: loc[0]})
	}
	return out
}
