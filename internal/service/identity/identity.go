// Package identity 根据 identity 签名检测重复（代理）的供应方
package identity

import (
	"bytes"
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

// SupplierSignatures 一个供应方的签名缓冲区
type SupplierSignatures struct {
	SupplierID primitive.ObjectID
	BufferID   primitive.ObjectID
	Signatures []string
}

// Classification 一个供应方的检测结论
type Classification struct {
	SupplierID primitive.ObjectID
	BufferID   primitive.ObjectID
	IsUnique   bool
	IsProxy    bool
	ProxyID    primitive.ObjectID
	Flag       string
}

// EqualFrac a 的签名中出现在 b 里的比例
func EqualFrac(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	n := 0
	for _, s := range a {
		if _, ok := set[s]; ok {
			n++
		}
	}
	return float64(n) / float64(len(a))
}

// Detect 按 supplier_id 顺序两两比较。已被代理或签名不足的供应方跳过，不出现在结果中
func Detect(suppliers []SupplierSignatures) []Classification {
	sorted := append([]SupplierSignatures(nil), suppliers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SupplierID[:], sorted[j].SupplierID[:]) < 0
	})

	proxiedBy := make(map[primitive.ObjectID]primitive.ObjectID)
	unique := make(map[primitive.ObjectID]bool)
	skipped := make(map[primitive.ObjectID]bool)

	for i, s := range sorted {
		if _, ok := proxiedBy[s.SupplierID]; ok {
			continue
		}
		if len(s.Signatures) < model.IdentityMinSignatures {
			skipped[s.SupplierID] = true
			continue
		}
		hasProxy := false
		for _, other := range sorted[i+1:] {
			if EqualFrac(s.Signatures, other.Signatures) > model.IdentityEqualFracThreshold {
				proxiedBy[other.SupplierID] = s.SupplierID
				hasProxy = true
			}
		}
		if !hasProxy {
			unique[s.SupplierID] = true
		}
	}

	out := make([]Classification, 0, len(sorted))
	for _, s := range sorted {
		if skipped[s.SupplierID] {
			continue
		}
		c := Classification{SupplierID: s.SupplierID, BufferID: s.BufferID, ProxyID: s.SupplierID}
		switch proxy, isProxied := proxiedBy[s.SupplierID]; {
		case unique[s.SupplierID]:
			c.IsUnique = true
			c.Flag = model.IdentityUniqueOrProxy
		case isProxied:
			c.ProxyID = proxy
			c.Flag = model.IdentityIgnoreOrDuplicated
		default:
			c.IsProxy = true
			c.Flag = model.IdentityUniqueOrProxy
		}
		out = append(out, c)
	}
	return out
}

// BufferReader 读取签名缓冲区
type BufferReader interface {
	SignatureBuffers(ctx context.Context, framework, task string) ([]model.SignatureBuffer, error)
}

// SummaryWriter 在一个事务中写入身份汇总与缓冲区标记
type SummaryWriter interface {
	SaveIdentity(ctx context.Context, updates []mongodb.IdentityUpdate) error
}

// Service 身份汇总服务
type Service struct {
	buffers BufferReader
	writer  SummaryWriter
	logger  *zap.Logger
}

// NewService 创建身份汇总服务
func NewService(buffers BufferReader, writer SummaryWriter, logger *zap.Logger) *Service {
	return &Service{buffers: buffers, writer: writer, logger: logger}
}

// Summarize 读取全部 identity 缓冲区、检测重复并保存，返回说明信息
func (s *Service) Summarize(ctx context.Context) (string, error) {
	buffers, err := s.buffers.SignatureBuffers(ctx, model.FrameworkSignatures, model.SignatureIdentity)
	if err != nil {
		return "", err
	}
	if len(buffers) == 0 {
		s.logger.Debug("no signature data to process identity summary")
		return "No data", nil
	}

	bySupplier := make(map[primitive.ObjectID]*SupplierSignatures)
	order := make([]primitive.ObjectID, 0, len(buffers))
	for i := range buffers {
		b := &buffers[i]
		entry, ok := bySupplier[b.TaskData.SupplierID]
		if !ok {
			entry = &SupplierSignatures{SupplierID: b.TaskData.SupplierID, BufferID: b.ID}
			bySupplier[b.TaskData.SupplierID] = entry
			order = append(order, b.TaskData.SupplierID)
		}
		entry.Signatures = append(entry.Signatures, b.ValidSignatures()...)
	}
	suppliers := make([]SupplierSignatures, 0, len(order))
	for _, id := range order {
		suppliers = append(suppliers, *bySupplier[id])
	}

	classes := Detect(suppliers)
	if len(classes) == 0 {
		s.logger.Debug("no identity summary to be created")
		return "No summaries yet.", nil
	}

	now := nowUTC()
	updates := make([]mongodb.IdentityUpdate, 0, len(classes))
	for _, c := range classes {
		updates = append(updates, mongodb.IdentityUpdate{
			Summary: model.IdentitySummary{
				SupplierID:  c.SupplierID,
				SummaryDate: now,
				IsUnique:    c.IsUnique,
				IsProxy:     c.IsProxy,
				ProxyID:     c.ProxyID,
			},
			BufferID: c.BufferID,
			Flag:     c.Flag,
		})
		if c.Flag == model.IdentityIgnoreOrDuplicated {
			s.logger.Info("duplicated supplier found",
				zap.String("supplier_id", c.SupplierID.Hex()),
				zap.String("proxy_id", c.ProxyID.Hex()))
		}
	}
	if err := s.writer.SaveIdentity(ctx, updates); err != nil {
		return "", err
	}
	s.logger.Info("identity summary saved", zap.Int("suppliers", len(updates)))
	return "", nil
}
