package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
)

// oid 按字节序递增的 ObjectID
func oid(b byte) primitive.ObjectID {
	var id primitive.ObjectID
	id[11] = b
	return id
}

func TestDetect(t *testing.T) {
	a := SupplierSignatures{SupplierID: oid(1), Signatures: []string{"h1", "h2", "h3", "h4", "h5"}}
	b := SupplierSignatures{SupplierID: oid(2), Signatures: []string{"h1", "h2", "h3", "h4", "hX"}}
	c := SupplierSignatures{SupplierID: oid(3), Signatures: []string{"z1", "z2", "z3", "z4", "z5"}}
	short := SupplierSignatures{SupplierID: oid(4), Signatures: []string{"h1", "h2"}}

	assert.InDelta(t, 0.8, EqualFrac(a.Signatures, b.Signatures), 1e-9)

	got := Detect([]SupplierSignatures{c, b, short, a})
	require.Len(t, got, 3)

	assert.Equal(t, Classification{SupplierID: oid(1), IsProxy: true, ProxyID: oid(1), Flag: model.IdentityUniqueOrProxy}, got[0])
	assert.Equal(t, Classification{SupplierID: oid(2), ProxyID: oid(1), Flag: model.IdentityIgnoreOrDuplicated}, got[1])
	assert.Equal(t, Classification{SupplierID: oid(3), IsUnique: true, ProxyID: oid(3), Flag: model.IdentityUniqueOrProxy}, got[2])
}

func TestDetect_BelowThreshold(t *testing.T) {
	// 3/5 = 0.6，不构成代理
	a := SupplierSignatures{SupplierID: oid(1), Signatures: []string{"h1", "h2", "h3", "h4", "h5"}}
	b := SupplierSignatures{SupplierID: oid(2), Signatures: []string{"h1", "h2", "h3", "x4", "x5"}}

	got := Detect([]SupplierSignatures{a, b})
	require.Len(t, got, 2)
	assert.True(t, got[0].IsUnique)
	assert.True(t, got[1].IsUnique)
}

type fakeStore struct {
	buffers []model.SignatureBuffer
	updates []mongodb.IdentityUpdate
}

func (f *fakeStore) SignatureBuffers(_ context.Context, framework, task string) ([]model.SignatureBuffer, error) {
	if framework != model.FrameworkSignatures || task != model.SignatureIdentity {
		return nil, nil
	}
	return f.buffers, nil
}

func (f *fakeStore) SaveIdentity(_ context.Context, updates []mongodb.IdentityUpdate) error {
	f.updates = append(f.updates, updates...)
	return nil
}

func buffer(t *testing.T, supplier primitive.ObjectID, signatures ...string) model.SignatureBuffer {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := model.NewSignatureBuffer(supplier, model.FrameworkSignatures, model.SignatureIdentity, start)
	b.ID = primitive.NewObjectID()
	for i, sig := range signatures {
		require.NoError(t, b.InsertSample(start.Add(time.Duration(i)*time.Minute), model.BufferSignature{Signature: sig, ID: i}))
	}
	return *b
}

func TestService_Summarize(t *testing.T) {
	store := &fakeStore{buffers: []model.SignatureBuffer{
		buffer(t, oid(1), "h1", "h2", "h3", "h4", "h5"),
		buffer(t, oid(2), "h1", "h2", "h3", "h4", "hX"),
	}}
	s := NewService(store, store, zap.NewNop())

	_, err := s.Summarize(context.Background())
	require.NoError(t, err)
	require.Len(t, store.updates, 2)

	assert.Equal(t, model.IdentityUniqueOrProxy, store.updates[0].Flag)
	assert.Equal(t, store.buffers[0].ID, store.updates[0].BufferID)
	assert.True(t, store.updates[0].Summary.IsProxy)

	assert.Equal(t, model.IdentityIgnoreOrDuplicated, store.updates[1].Flag)
	assert.Equal(t, oid(1), store.updates[1].Summary.ProxyID)
	assert.False(t, store.updates[1].Summary.IsUnique)
}

func TestService_SummarizeNoData(t *testing.T) {
	store := &fakeStore{}
	msg, err := NewService(store, store, zap.NewNop()).Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No data", msg)
	assert.Empty(t, store.updates)
}
