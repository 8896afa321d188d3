package generator

import (
	"fmt"
	"math/rand"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// signatures 任务参数
const (
	// IdentitySignatureCount identity 任务的请求数
	IdentitySignatureCount = 2
	identitySeed           = 42
	identityWords          = 10
	identityMaxTokens      = 100
	identityTimeout        = 60
	sidecarTimeout         = 10
)

// 供应方 sidecar 的路径
const (
	TokenizerPath = "/pokt/tokenizer"
	ConfigPath    = "/pokt/config"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna " +
	"aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. " +
	"Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint " +
	"occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

// TaskTree 一次写入的 task、instances、prompts
type TaskTree struct {
	Task      *model.Task
	Instances []*model.Instance
	Prompts   []*model.Prompt
}

// SignatureTask 按任务名构建 signatures 任务树
func SignatureTask(name string, args model.RequesterArgs) (*TaskTree, error) {
	switch name {
	case model.SignatureTokenizer:
		return sidecarTask(name, TokenizerPath, args), nil
	case model.SignatureConfig:
		return sidecarTask(name, ConfigPath, args), nil
	case model.SignatureIdentity:
		return IdentityTask(args)
	default:
		return nil, apperr.New(apperr.BadParams, "unsupported signatures task %q", name)
	}
}

func newSignatureTask(name string, args model.RequesterArgs, qty int) *model.Task {
	return &model.Task{
		ID:             primitive.NewObjectID(),
		Framework:      model.FrameworkSignatures,
		RequesterArgs:  args,
		Blacklist:      []int{},
		DocIDs:         []int{},
		Qty:            qty,
		Tasks:          name,
		TotalInstances: qty,
		CreatedAt:      nowUTC(),
	}
}

func newSignatureInstance(taskID primitive.ObjectID, name string, idx int) *model.Instance {
	return &model.Instance{
		ID:        primitive.NewObjectID(),
		TaskID:    taskID,
		DocID:     idx,
		Idx:       idx,
		Arguments: []string{},
		Repeats:   1,
		Metadata:  model.InstanceMetadata{TaskName: name, DocID: idx, Repeats: 1},
	}
}

// sidecarTask tokenizer/config 任务：一次 GET，空请求体
func sidecarTask(name, path string, args model.RequesterArgs) *TaskTree {
	args.Method = "GET"
	args.Path = path
	args.Headers = map[string]string{}

	task := newSignatureTask(name, args, 1)
	inst := newSignatureInstance(task.ID, name, 0)
	prompt := &model.Prompt{
		ID:         primitive.NewObjectID(),
		TaskID:     task.ID,
		InstanceID: inst.ID,
		Data:       "",
		Timeout:    sidecarTimeout,
	}
	return &TaskTree{Task: task, Instances: []*model.Instance{inst}, Prompts: []*model.Prompt{prompt}}
}

// IdentityTask 固定种子生成的随机词提示，temperature 0，每个请求的 seed 为其下标
func IdentityTask(args model.RequesterArgs) (*TaskTree, error) {
	args.Method = "POST"
	args.Path = model.CompletionPath
	args.Headers = map[string]string{}

	task := newSignatureTask(model.SignatureIdentity, args, IdentitySignatureCount)
	tree := &TaskTree{Task: task}
	rnd := rand.New(rand.NewSource(identitySeed))
	for idx := 0; idx < IdentitySignatureCount; idx++ {
		inst := newSignatureInstance(task.ID, model.SignatureIdentity, idx)

		req := model.NewCompletionRequest(DefaultModel, IdentityPrompt(rnd))
		seed := idx
		req.MaxTokens = identityMaxTokens
		req.Temperature = 0
		req.Seed = &seed
		prompt, err := model.NewPrompt(task.ID, inst.ID, req, identityTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to encode identity prompt: %w", err)
		}
		tree.Instances = append(tree.Instances, inst)
		tree.Prompts = append(tree.Prompts, prompt)
	}
	return tree, nil
}

// IdentityPrompt 从 lorem ipsum 中有放回地取 10 个词
func IdentityPrompt(rnd *rand.Rand) string {
	words := strings.Split(loremIpsum, " ")
	picked := make([]string, identityWords)
	for i := range picked {
		picked[i] = words[rnd.Intn(len(words))]
	}
	return strings.Join(picked, " ") + " "
}
