// Package taxonomy 解析分类图并按分类汇总供应方的数值缓冲区
package taxonomy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// FileExt 分类文件扩展名
const FileExt = ".tax"

const labelingSuffix = "_labeling"

// Taxonomy 分类图：节点、有向边以及节点标注的数据集
type Taxonomy struct {
	Name string
	// Nodes 按首次出现的顺序
	Nodes    []string
	Children map[string][]string
	Parents  map[string][]string
	Datasets map[string][]string
}

// graph 解析过程中的一个 digraph 块
type graph struct {
	name  string
	nodes []string
	seen  map[string]bool
	edges [][2]string
}

func (g *graph) addNode(n string) {
	if !g.seen[n] {
		g.seen[n] = true
		g.nodes = append(g.nodes, n)
	}
}

func nodeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ";", "")
	return strings.ReplaceAll(strings.TrimSpace(s), ":", "---")
}

// Parse 读取 `digraph N {A -> B;}` 与 `digraph N_labeling {A -> dataset;}` 两个块
func Parse(r io.Reader) (*Taxonomy, error) {
	var graphs []*graph
	var cur *graph

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "", strings.Contains(line, "//"):
			continue
		case strings.Contains(line, "{"):
			name := line
			if i := strings.LastIndex(name, "digraph"); i >= 0 {
				name = name[i+len("digraph"):]
			}
			name = strings.TrimSpace(strings.SplitN(name, "{", 2)[0])
			cur = &graph{name: name, seen: map[string]bool{}}
			graphs = append(graphs, cur)
		case strings.Contains(line, "}"), !strings.Contains(line, " -> "):
			continue
		default:
			if cur == nil {
				return nil, fmt.Errorf("edge outside of a digraph block: %q", strings.TrimSpace(line))
			}
			parts := strings.Split(line, " -> ")
			from, to := nodeName(parts[0]), nodeName(parts[len(parts)-1])
			cur.addNode(from)
			cur.addNode(to)
			cur.edges = append(cur.edges, [2]string{from, to})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}

	if len(graphs) != 2 {
		return nil, fmt.Errorf("taxonomy must contain exactly 2 graphs, found %d", len(graphs))
	}
	tax, labels := graphs[0], graphs[1]
	if labels.name != tax.name+labelingSuffix {
		return nil, fmt.Errorf("second graph must be named %q, found %q", tax.name+labelingSuffix, labels.name)
	}
	if !tax.seen[model.TaxonomyRoot] {
		return nil, fmt.Errorf("taxonomy %s has no %s node", tax.name, model.TaxonomyRoot)
	}

	t := &Taxonomy{
		Name:     tax.name,
		Nodes:    tax.nodes,
		Children: map[string][]string{},
		Parents:  map[string][]string{},
		Datasets: map[string][]string{},
	}
	for _, e := range tax.edges {
		t.Children[e[0]] = appendUnique(t.Children[e[0]], e[1])
		t.Parents[e[1]] = appendUnique(t.Parents[e[1]], e[0])
	}
	for _, e := range labels.edges {
		if e[0] == model.TaxonomyRoot {
			return nil, fmt.Errorf("%s cannot be labeled with dataset %s", model.TaxonomyRoot, e[1])
		}
		t.Datasets[e[0]] = appendUnique(t.Datasets[e[0]], e[1])
	}
	if err := t.checkDatasetReuse(); err != nil {
		return nil, err
	}
	return t, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// checkDatasetReuse 从每个叶子向上走到根，同一路径上的节点不能共用数据集
func (t *Taxonomy) checkDatasetReuse() error {
	for _, node := range t.Nodes {
		if len(t.Children[node]) > 0 {
			continue
		}
		if err := t.explore([]string{node}, t.Datasets[node]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Taxonomy) explore(path []string, used []string) error {
	node := path[len(path)-1]
	for _, parent := range t.Parents[node] {
		for _, ds := range t.Datasets[parent] {
			for _, u := range used {
				if u == ds {
					return fmt.Errorf("dataset %s shared by node %s and its ancestor %s (path %s)",
						ds, node, parent, strings.Join(path, " <- "))
				}
			}
		}
		next := append(append([]string(nil), used...), t.Datasets[parent]...)
		if err := t.explore(append(append([]string(nil), path...), parent), next); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile 读取单个分类文件
func LoadFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy %s: %w", path, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// LoadDir 读取目录下全部 .tax 文件，以图名为键
func LoadDir(dir string, logger *zap.Logger) (map[string]*Taxonomy, error) {
	out := map[string]*Taxonomy{}
	if dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list taxonomies in %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != FileExt {
			continue
		}
		t, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if base := strings.TrimSuffix(e.Name(), FileExt); base != t.Name {
			logger.Warn("taxonomy file name differs from graph name, using graph name",
				zap.String("file", base),
				zap.String("graph", t.Name))
		}
		out[t.Name] = t
	}
	return out, nil
}
