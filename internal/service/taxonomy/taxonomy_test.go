package taxonomy

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

const basicTaxonomy = `digraph basic {
    // 注释行
    root_c -> Math;
    root_c -> Language;
    Language -> Language:Grammar;
}
digraph basic_labeling {
    Math -> gsm8k;
    Language -> hellaswag;
    Language:Grammar -> winogrande;
}
`

func TestParse(t *testing.T) {
	tax, err := Parse(strings.NewReader(basicTaxonomy))
	require.NoError(t, err)

	assert.Equal(t, "basic", tax.Name)
	assert.Equal(t, []string{"root_c", "Math", "Language", "Language---Grammar"}, tax.Nodes)
	assert.Equal(t, []string{"Math", "Language"}, tax.Children[model.TaxonomyRoot])
	assert.Equal(t, []string{"winogrande"}, tax.Datasets["Language---Grammar"])
	assert.Equal(t, []string{"Language"}, tax.Parents["Language---Grammar"])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"single graph", "digraph a {\n root_c -> X;\n}\n", "exactly 2 graphs"},
		{"labeling name", "digraph a {\n root_c -> X;\n}\ndigraph b {\n X -> d;\n}\n", "a_labeling"},
		{"missing root", "digraph a {\n Y -> X;\n}\ndigraph a_labeling {\n X -> d;\n}\n", "root_c"},
		{"root labeled", "digraph a {\n root_c -> X;\n}\ndigraph a_labeling {\n root_c -> d;\n}\n", "cannot be labeled"},
		{"dataset reuse", "digraph a {\n root_c -> X;\n X -> Y;\n}\ndigraph a_labeling {\n X -> d;\n Y -> d;\n}\n", "shared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renamed.tax"), []byte(basicTaxonomy), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	taxonomies, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)
	require.Contains(t, taxonomies, "basic")
	assert.Len(t, taxonomies, 1)

	empty, err := LoadDir("", zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

type fakeBuffers struct {
	byTask map[string][]model.NumericalBuffer
}

func (f *fakeBuffers) NumericalBuffers(_ context.Context, _ primitive.ObjectID, framework, task string) ([]model.NumericalBuffer, error) {
	if framework != model.FrameworkLMEH {
		return nil, nil
	}
	return f.byTask[task], nil
}

type fakeWriter struct {
	saved []*model.TaxonomySummary
}

func (f *fakeWriter) UpsertTaxonomySummary(_ context.Context, s *model.TaxonomySummary) error {
	f.saved = append(f.saved, s)
	return nil
}

func numBuffer(samples uint32, mean, std float64) model.NumericalBuffer {
	return model.NumericalBuffer{
		MeanScores: mean,
		StdScores:  std,
		MeanTimes:  100,
		StdTimes:   10,
		CircBuffer: model.CircularBuffer{NumSamples: samples},
	}
}

func TestService_Summarize_RootAggregation(t *testing.T) {
	const src = `digraph lang_math {
    root_c -> Math;
    root_c -> Language;
}
digraph lang_math_labeling {
    Math -> gsm8k;
    Language -> hellaswag;
}
`
	tax, err := Parse(strings.NewReader(src))
	require.NoError(t, err)

	buffers := &fakeBuffers{byTask: map[string][]model.NumericalBuffer{
		"gsm8k":     {numBuffer(10, 0.4, 0.2)},
		"hellaswag": {numBuffer(20, 0.6, 0.1)},
	}}
	writer := &fakeWriter{}
	s := NewService(map[string]*Taxonomy{tax.Name: tax}, buffers, writer, zap.NewNop())

	supplier := primitive.NewObjectID()
	summary, err := s.Summarize(context.Background(), supplier.Hex(), "lang_math")
	require.NoError(t, err)
	require.Len(t, writer.saved, 1)
	assert.Equal(t, supplier, summary.SupplierID)

	root := summary.TaxonomyNodesScores[model.TaxonomyRoot]
	assert.InDelta(t, 0.5, root.Score, 1e-9)
	assert.Equal(t, int64(10), root.SampleMin)
	assert.InDelta(t, math.Sqrt(math.Pow(0.2/math.Sqrt(10), 2)+math.Pow(0.1/math.Sqrt(20), 2)), root.ScoreDev, 1e-9)
	assert.InDelta(t, 0.067, root.ScoreDev, 1e-3)

	math_ := summary.TaxonomyNodesScores["Math"]
	assert.InDelta(t, 0.4, math_.Score, 1e-9)
	assert.InDelta(t, 100, math_.RunTime, 1e-9)
}

func TestService_Summarize_Edges(t *testing.T) {
	tax, err := Parse(strings.NewReader(basicTaxonomy))
	require.NoError(t, err)
	taxonomies := map[string]*Taxonomy{tax.Name: tax}

	// 没有数据的节点全为 0；error_rate 为 1 的缓冲区不计入
	failing := numBuffer(10, 0.9, 0.1)
	failing.ErrorRate = 1
	buffers := &fakeBuffers{byTask: map[string][]model.NumericalBuffer{"hellaswag": {failing}}}
	summary, err := NewService(taxonomies, buffers, &fakeWriter{}, zap.NewNop()).
		Summarize(context.Background(), primitive.NewObjectID().Hex(), "basic")
	require.NoError(t, err)
	assert.Equal(t, model.TaxonomyNode{}, summary.TaxonomyNodesScores["Language"])
	assert.Equal(t, model.TaxonomyNode{}, summary.TaxonomyNodesScores[model.TaxonomyRoot])

	// 同一任务多个缓冲区
	dup := &fakeBuffers{byTask: map[string][]model.NumericalBuffer{"gsm8k": {numBuffer(5, 1, 0), numBuffer(5, 1, 0)}}}
	_, err = NewService(taxonomies, dup, &fakeWriter{}, zap.NewNop()).
		Summarize(context.Background(), primitive.NewObjectID().Hex(), "basic")
	assert.True(t, apperr.Is(err, apperr.TaxonomySummarizeError))

	_, err = NewService(taxonomies, dup, &fakeWriter{}, zap.NewNop()).
		Summarize(context.Background(), primitive.NewObjectID().Hex(), "unknown")
	assert.True(t, apperr.Is(err, apperr.TaxonomySummarizeError))
}
