package model

// 所有 gorm 模型的统一导入点
// 用于 AutoMigrate
var AllModels = []interface{}{
	&TaskRegistry{},
}

// 文档集合名称
const (
	TasksCollection             = "tasks"
	InstancesCollection         = "instances"
	PromptsCollection           = "prompts"
	ResponsesCollection         = "responses"
	ResultsCollection           = "results"
	ConfigsCollection           = "configs"
	TokenizersCollection        = "tokenizers"
	SuppliersCollection         = "nodes"
	BuffersNumericalCollection  = "buffers_numerical"
	BuffersSignaturesCollection = "buffers_signatures"
	TaxonomySummariesCollection = "taxonomy_summaries"
	IdentitySummariesCollection = "identity_summaries"
)

// AllCollections 启动时需要确保存在的集合
var AllCollections = []string{
	TasksCollection,
	InstancesCollection,
	PromptsCollection,
	ResponsesCollection,
	ResultsCollection,
	ConfigsCollection,
	TokenizersCollection,
	SuppliersCollection,
	BuffersNumericalCollection,
	BuffersSignaturesCollection,
	TaxonomySummariesCollection,
	IdentitySummariesCollection,
}

// Framework 任务框架
const (
	FrameworkLMEH       = "lmeh"
	FrameworkSignatures = "signatures"
)

// signatures 框架下的任务名
const (
	SignatureTokenizer = "tokenizer"
	SignatureConfig    = "config"
	SignatureIdentity  = "identity"
)
