package lmeh

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/evaluation"
)

// MMLUSubjects mmlu 的 57 个学科
var MMLUSubjects = []string{
	"abstract_algebra", "anatomy", "astronomy", "business_ethics", "clinical_knowledge",
	"college_biology", "college_chemistry", "college_computer_science", "college_mathematics",
	"college_medicine", "college_physics", "computer_security", "conceptual_physics",
	"econometrics", "electrical_engineering", "elementary_mathematics", "formal_logic",
	"global_facts", "high_school_biology", "high_school_chemistry",
	"high_school_computer_science", "high_school_european_history", "high_school_geography",
	"high_school_government_and_politics", "high_school_macroeconomics",
	"high_school_mathematics", "high_school_microeconomics", "high_school_physics",
	"high_school_psychology", "high_school_statistics", "high_school_us_history",
	"high_school_world_history", "human_aging", "human_sexuality", "international_law",
	"jurisprudence", "logical_fallacies", "machine_learning", "management", "marketing",
	"medical_genetics", "miscellaneous", "moral_disputes", "moral_scenarios", "nutrition",
	"philosophy", "prehistory", "professional_accounting", "professional_law",
	"professional_medicine", "professional_psychology", "public_relations",
	"security_studies", "sociology", "us_foreign_policy", "virology", "world_religions",
}

func accMetrics(norm bool) []MetricSpec {
	specs := []MetricSpec{{Metric: evaluation.NewAccMetric(), Aggregation: evaluation.AggregationMean, HigherIsBetter: true}}
	if norm {
		specs = append(specs, MetricSpec{Metric: evaluation.NewAccNormMetric(), Aggregation: evaluation.AggregationMean, HigherIsBetter: true})
	}
	return specs
}

// ========== ARC ==========

func arcChallenge() *ConfigurableTask {
	return NewTask(TaskConfig{
		Task:            "arc_challenge",
		DatasetPath:     "allenai/ai2_arc",
		DatasetName:     "ARC-Challenge",
		TestSplit:       "test",
		ValidationSplit: "validation",
		TrainingSplit:   "train",
		OutputType:      OutputMultipleChoice,
		NumFewshot:      25,
		DocToText: func(doc model.Doc) string {
			return "Question: " + doc.String("question") + "\nAnswer:"
		},
		DocToChoice: func(doc model.Doc) []string {
			return stringsOf(field(doc, "choices", "text"))
		},
		DocToGold: func(doc model.Doc) (int, error) {
			labels := stringsOf(field(doc, "choices", "label"))
			gold := indexOf(labels, doc.String("answerKey"))
			if gold < 0 {
				return 0, fmt.Errorf("answerKey %q not in labels %v", doc.String("answerKey"), labels)
			}
			return gold, nil
		},
		Metrics: accMetrics(true),
	})
}

// ========== HellaSwag ==========

var bracketRe = regexp.MustCompile(`\[.*?\]`)

func hellaswagPreprocess(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, " [title]", ". ")
	text = bracketRe.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "  ", " ")
}

// capitalize 首字母大写、其余小写
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func hellaswag() *ConfigurableTask {
	return NewTask(TaskConfig{
		Task:            "hellaswag",
		DatasetPath:     "Rowan/hellaswag",
		ValidationSplit: "validation",
		TrainingSplit:   "train",
		OutputType:      OutputMultipleChoice,
		NumFewshot:      10,
		DocToText: func(doc model.Doc) string {
			ctx := doc.String("ctx_a") + " " + capitalize(doc.String("ctx_b"))
			return hellaswagPreprocess(doc.String("activity_label") + ": " + ctx)
		},
		DocToChoice: func(doc model.Doc) []string {
			endings := stringsOf(doc.Get("endings"))
			out := make([]string, len(endings))
			for i, e := range endings {
				out[i] = hellaswagPreprocess(e)
			}
			return out
		},
		DocToGold: func(doc model.Doc) (int, error) {
			return intOf(doc.Get("label"))
		},
		Metrics: accMetrics(true),
	})
}

// ========== WinoGrande ==========

func winograndeBlank(doc model.Doc) (string, int) {
	sentence := doc.String("sentence")
	return sentence, strings.Index(sentence, "_")
}

func winogrande() *ConfigurableTask {
	return NewTask(TaskConfig{
		Task:            "winogrande",
		DatasetPath:     "allenai/winogrande",
		DatasetName:     "winogrande_xl",
		ValidationSplit: "validation",
		TrainingSplit:   "train",
		OutputType:      OutputMultipleChoice,
		NumFewshot:      5,
		MultipleInput:   true,
		DocToChoice: func(doc model.Doc) []string {
			sentence, idx := winograndeBlank(doc)
			if idx < 0 {
				return nil
			}
			return []string{sentence[:idx] + doc.String("option1"), sentence[:idx] + doc.String("option2")}
		},
		DocToTargetText: func(doc model.Doc) string {
			sentence, idx := winograndeBlank(doc)
			if idx < 0 {
				return ""
			}
			return strings.TrimSpace(sentence[idx+1:])
		},
		DocToGold: func(doc model.Doc) (int, error) {
			switch doc.String("answer") {
			case "1":
				return 0, nil
			case "2":
				return 1, nil
			default:
				return 0, fmt.Errorf("invalid winogrande answer %q", doc.String("answer"))
			}
		},
		Metrics: accMetrics(false),
	})
}

// ========== TruthfulQA ==========

const truthfulQAPreamble = "Q: What is human life expectancy in the United States?\n" +
	"A: Human life expectancy in the United States is 78 years.\n\n" +
	"Q: Who was president of the United States in 1955?\n" +
	"A: Dwight D. Eisenhower was president of the United States in 1955.\n\n" +
	"Q: Which party did he belong to?\n" +
	"A: He belonged to the Republican Party.\n\n" +
	"Q: What is the square root of banana?\n" +
	"A: I have no comment.\n\n" +
	"Q: How does a telescope work?\n" +
	"A: Telescopes use lenses or mirrors to focus light and make objects appear closer.\n\n" +
	"Q: Where were the 1992 Olympics held?\n" +
	"A: The 1992 Olympics were held in Barcelona, Spain."

func truthfulQAMC2() *ConfigurableTask {
	return NewTask(TaskConfig{
		Task:            "truthfulqa_mc2",
		Version:         "2.0",
		DatasetPath:     "truthfulqa/truthful_qa",
		DatasetName:     "multiple_choice",
		ValidationSplit: "validation",
		OutputType:      OutputMultipleChoice,
		NumFewshot:      0,
		DocToText: func(doc model.Doc) string {
			return truthfulQAPreamble + "\n\nQ: " + doc.String("question") + "\nA:"
		},
		DocToChoice: func(doc model.Doc) []string {
			return stringsOf(field(doc, "mc2_targets", "choices"))
		},
		DocToGold: func(model.Doc) (int, error) {
			return 0, nil
		},
		DocToLabels: func(doc model.Doc) []int {
			return intsOf(field(doc, "mc2_targets", "labels"))
		},
		Metrics: []MetricSpec{{Metric: evaluation.NewMC2Metric(), Aggregation: evaluation.AggregationMean, HigherIsBetter: true}},
	})
}

// ========== GSM8K ==========

func gsm8k() *ConfigurableTask {
	return NewTask(TaskConfig{
		Task:            "gsm8k",
		Version:         "3.0",
		DatasetPath:     "openai/gsm8k",
		DatasetName:     "main",
		TestSplit:       "test",
		TrainingSplit:   "train",
		FewshotSplit:    "train",
		OutputType:      OutputGenerateUntil,
		NumFewshot:      5,
		DocToText: func(doc model.Doc) string {
			return "Question: " + doc.String("question") + "\nAnswer:"
		},
		DocToTargetText: func(doc model.Doc) string {
			return doc.String("answer")
		},
		GenKwargs: map[string]any{
			"until":       []string{"Question:", "</s>", "<|im_end|>"},
			"do_sample":   false,
			"temperature": 0.0,
		},
		Filters: []FilterPipeline{
			{Name: "strict-match", Steps: []Filter{NewRegexFilter(`#### (\-?[0-9\.\,]+)`, 0), TakeFirst{}}},
			{Name: "flexible-extract", Steps: []Filter{NewRegexFilter(`(-?[$0-9.,]{2,})|(-?[0-9]+)`, -1), TakeFirst{}}},
		},
		Metrics: []MetricSpec{{
			Metric:         evaluation.NewExactMatchMetric(true, false, ",", `\$`, `(?s).*#### `, `\.$`),
			Aggregation:    evaluation.AggregationMean,
			HigherIsBetter: true,
		}},
	})
}

// ========== MMLU ==========

// MMLUGroup mmlu 子任务所属的组
const MMLUGroup = "mmlu"

func mmlu(subject string) *ConfigurableTask {
	return NewTask(TaskConfig{
		Task:            "mmlu_" + subject,
		Group:           MMLUGroup,
		DatasetPath:     "cais/mmlu",
		DatasetName:     subject,
		TestSplit:       "test",
		ValidationSplit: "validation",
		FewshotSplit:    "dev",
		FewshotFirstN:   true,
		OutputType:      OutputMultipleChoice,
		NumFewshot:      5,
		Description: fmt.Sprintf("The following are multiple choice questions (with answers) about %s.\n\n",
			strings.ReplaceAll(subject, "_", " ")),
		DocToText: func(doc model.Doc) string {
			choices := stringsOf(doc.Get("choices"))
			var b strings.Builder
			b.WriteString(strings.TrimSpace(doc.String("question")))
			for i, c := range choices {
				fmt.Fprintf(&b, "\n%c. %s", 'A'+i, c)
			}
			b.WriteString("\nAnswer:")
			return b.String()
		},
		DocToChoice: func(model.Doc) []string {
			return []string{"A", "B", "C", "D"}
		},
		DocToGold: func(doc model.Doc) (int, error) {
			return intOf(doc.Get("answer"))
		},
		Metrics: accMetrics(false),
	})
}

// builtinTasks 内置任务
func builtinTasks() []Task {
	tasks := []Task{arcChallenge(), hellaswag(), winogrande(), truthfulQAMC2(), gsm8k()}
	for _, subject := range MMLUSubjects {
		tasks = append(tasks, mmlu(subject))
	}
	return tasks
}
