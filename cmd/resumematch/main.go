// resumematch 在本地批量解析 PDF 简历，并可按岗位描述文件打分排序，不依赖任何存储服务。
//
//	resumematch -d ./resumes -j job.yaml --limit 10
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"resume-matcher/internal/config"
	"resume-matcher/internal/parser"
	"resume-matcher/internal/processor"
	"resume-matcher/internal/ranking"
	"resume-matcher/internal/ratelimit"
	"resume-matcher/internal/scoring"
	"resume-matcher/internal/types"
)

type output struct {
	Profiles []profileOutput     `json:"profiles"`
	Ranking  *types.RankedResult `json:"ranking,omitempty"`
}

type profileOutput struct {
	DocumentID        string                  `json:"document_id"`
	File              string                  `json:"file"`
	VocabularyVersion string                  `json:"vocabulary_version,omitempty"`
	Degraded          bool                    `json:"degraded,omitempty"`
	Error             string                  `json:"error,omitempty"`
	Profile           *types.CandidateProfile `json:"profile,omitempty"`
}

func main() {
	var (
		configPath string
		dir        string
		jobPath    string
		limit      int
		minScore   float64
		verbose    bool
		timeout    time.Duration
	)
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.StringVarP(&dir, "dir", "d", "", "包含 PDF 简历的目录")
	pflag.StringVarP(&jobPath, "job", "j", "", "岗位描述文件 (yaml 或 json)，为空时只输出解析结果")
	pflag.IntVar(&limit, "limit", 0, "最多输出的排序结果数，0 表示不限制")
	pflag.Float64Var(&minScore, "min-score", 0, "最低综合分")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "输出组件日志到 stderr")
	pflag.DurationVar(&timeout, "timeout", 5*time.Minute, "整体超时")
	pflag.Parse()

	if dir == "" {
		fmt.Fprintln(os.Stderr, "错误: 必须通过 -d 指定简历目录")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := scoring.ValidateWeights(cfg.Scoring.Weights); err != nil {
		log.Fatalf("权重配置无效: %v", err)
	}

	loggers := func(prefix string) *log.Logger { return log.New(io.Discard, "", 0) }
	if verbose {
		loggers = func(prefix string) *log.Logger { return log.New(os.Stderr, prefix, log.LstdFlags) }
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	docs, files, err := loadDocuments(dir)
	if err != nil {
		log.Fatalf("读取简历目录失败: %v", err)
	}
	if len(docs) == 0 {
		log.Fatalf("目录 %s 中没有 PDF 文件", dir)
	}

	vocab, err := processor.LoadVocabulary(cfg, loggers("[Vocabulary] "))
	if err != nil {
		log.Fatalf("%v", err)
	}

	var embedder embedding.Embedder
	if cfg.Aliyun.APIKey != "" {
		aliyunEmbedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding,
			parser.WithEmbedderLogger(loggers("[Embedder] ")))
		if err != nil {
			log.Fatalf("初始化阿里云Embedder失败: %v", err)
		}
		embedder = aliyunEmbedder
		if qpm := cfg.QPMFor(aliyunEmbedder.Model()); qpm > 0 {
			embedder = ratelimit.NewEmbedder(aliyunEmbedder, qpm, ratelimit.WithRetryOn(func(err error) bool {
				return errors.Is(err, parser.ErrRateLimited)
			}))
		}
	}

	// 本地模式只用规则识别实体
	pipeline, err := processor.BuildPipeline(cfg, vocab, nil, loggers)
	if err != nil {
		log.Fatalf("创建流水线失败: %v", err)
	}

	start := time.Now()
	results, err := pipeline.ProcessBatch(ctx, docs)
	if err != nil {
		log.Fatalf("批量处理失败: %v", err)
	}
	fmt.Fprintf(os.Stderr, "解析完成: %d 份简历, 耗时 %s\n", len(results), time.Since(start).Round(time.Millisecond))

	out := output{Profiles: make([]profileOutput, 0, len(results))}
	for _, res := range results {
		p := profileOutput{DocumentID: res.DocumentID, File: files[res.DocumentID]}
		if res.Err != nil {
			p.Error = res.Err.Error()
		} else {
			profile := res.Profile
			p.Profile = &profile
			p.VocabularyVersion = res.VocabularyVersion
			p.Degraded = res.Degraded()
		}
		out.Profiles = append(out.Profiles, p)
	}

	if jobPath != "" {
		job, err := loadJob(jobPath)
		if err != nil {
			log.Fatalf("读取岗位描述失败: %v", err)
		}
		result, err := processor.RankLocal(ctx,
			processor.BuildScorer(cfg, embedder, loggers),
			processor.BuildAggregator(cfg, loggers),
			vocab, job, cfg.Scoring.Weights, results,
			ranking.Filter{MinScore: minScore, Limit: limit},
		)
		if err != nil {
			log.Fatalf("排序失败: %v", err)
		}
		out.Ranking = &result
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("输出结果失败: %v", err)
	}
}

// loadDocuments 读取目录下的 PDF，文档ID取文件名（不含扩展名）
func loadDocuments(dir string) ([]processor.BatchDocument, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []processor.BatchDocument
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("读取 %s 失败: %w", path, err)
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, dup := files[id]; dup {
			id = e.Name()
		}
		files[id] = path
		docs = append(docs, processor.BatchDocument{ID: id, Data: data})
	}
	return docs, files, nil
}

// loadJob 读取 yaml 或 json 格式的岗位描述
func loadJob(path string) (types.JobDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.JobDescription{}, err
	}
	var raw struct {
		ID                 string   `yaml:"id" json:"id"`
		Title              string   `yaml:"title" json:"title"`
		RequiredSkills     []string `yaml:"required_skills" json:"required_skills"`
		PreferredSkills    []string `yaml:"preferred_skills" json:"preferred_skills"`
		MinExperienceYears float64  `yaml:"min_experience_years" json:"min_experience_years"`
		RawText            string   `yaml:"raw_text" json:"raw_text"`
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return types.JobDescription{}, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	if strings.TrimSpace(raw.RawText) == "" {
		return types.JobDescription{}, fmt.Errorf("%w: raw_text is required", types.ErrInvalidRequest)
	}
	if raw.ID == "" {
		raw.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return types.JobDescription{
		ID:                 raw.ID,
		Title:              raw.Title,
		RequiredSkills:     raw.RequiredSkills,
		PreferredSkills:    raw.PreferredSkills,
		MinExperienceYears: raw.MinExperienceYears,
		RawText:            raw.RawText,
	}, nil
}
