package vocabulary

// DefaultVersion 内置词表版本
const DefaultVersion = "builtin-1"

// DefaultEntries 内置的常见技术技能词表，部署时通常由 skills.yaml 覆盖
func DefaultEntries() []Entry {
	return []Entry{
		{ID: "go", Aliases: []string{"golang", "go lang"}},
		{ID: "python", Aliases: []string{"py", "python3", "python 3"}},
		{ID: "java", Aliases: []string{"java8", "java 8", "java11"}},
		{ID: "javascript", Aliases: []string{"js", "ecmascript", "es6"}},
		{ID: "typescript", Aliases: []string{"ts"}},
		{ID: "sql", Aliases: []string{"structured query language"}},
		{ID: "postgresql", Aliases: []string{"postgres", "psql"}},
		{ID: "mysql"},
		{ID: "redis"},
		{ID: "kafka", Aliases: []string{"apache kafka"}},
		{ID: "rabbitmq", Aliases: []string{"rabbit mq"}},
		{ID: "docker"},
		{ID: "kubernetes", Aliases: []string{"k8s"}},
		{ID: "terraform"},
		{ID: "aws", Aliases: []string{"amazon web services"}},
		{ID: "gcp", Aliases: []string{"google cloud", "google cloud platform"}},
		{ID: "azure", Aliases: []string{"microsoft azure"}},
		{ID: "linux"},
		{ID: "git"},
		{ID: "react", Aliases: []string{"react.js", "reactjs"}},
		{ID: "vue", Aliases: []string{"vue.js", "vuejs"}},
		{ID: "node.js", Aliases: []string{"nodejs", "node"}},
		{ID: "c++", Aliases: []string{"cpp"}},
		{ID: "c#", Aliases: []string{"csharp", "c sharp"}},
		{ID: "rust"},
		{ID: "grpc"},
		{ID: "graphql"},
		{ID: "machine learning", Aliases: []string{"ml"}},
		{ID: "deep learning", Aliases: []string{"dl"}},
		{ID: "pytorch"},
		{ID: "tensorflow"},
		{ID: "spark", Aliases: []string{"apache spark", "pyspark"}},
		{ID: "elasticsearch", Aliases: []string{"elastic search"}},
		{ID: "microservices", Aliases: []string{"micro services", "microservice"}},
	}
}

// Default 构建内置词表快照
func Default() *Snapshot {
	s, err := NewSnapshot(DefaultVersion, DefaultEntries())
	if err != nil {
		// 内置词表是静态数据，构建失败属于编程错误
		panic(err)
	}
	return s
}
