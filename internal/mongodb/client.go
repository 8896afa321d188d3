// Package mongodb 文档库客户端：连接、事务、带重试的聚合查询
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
)

// DefaultDatabase URI 中没有库名时使用的库
const DefaultDatabase = "pocket-ml-testbench"

// namespaceExistsCode 集合已存在
const namespaceExistsCode = 48

// Client 文档库客户端
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// DatabaseName 从 URI 路径中取库名
func DatabaseName(uri, defaultName string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultName
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return defaultName
	}
	return name
}

// Connect 连接并 ping 文档库
func Connect(ctx context.Context, uri string, logger *zap.Logger) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	name := DatabaseName(uri, DefaultDatabase)
	logger.Info("connected to mongodb", zap.String("database", name))
	return New(client, client.Database(name), logger), nil
}

// New 由已有连接构建客户端
func New(client *mongo.Client, db *mongo.Database, logger *zap.Logger) *Client {
	return &Client{client: client, db: db, logger: logger}
}

// EnsureCollections 创建缺失的集合
func (c *Client) EnsureCollections(ctx context.Context, names []string) error {
	for _, name := range names {
		err := c.db.CreateCollection(ctx, name)
		var cmdErr mongo.CommandError
		if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode) {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

// Database 返回库句柄
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Collection 返回集合
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// WithTransaction 在会话事务中执行 fn。fn 返回错误或 panic 时事务中止；
// fn 也可以调用 sc.AbortTransaction 主动中止，此时不提交。
func (c *Client) WithTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := c.client.StartSession()
	if err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to start session")
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in transaction: %v", r)
			}
		}()
		return nil, driverError(fn(sc))
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperr.Wrap(apperr.Mongodb, err, "transaction failed")
	}
	return nil
}

// driverError 回调内的错误链中有驱动错误时直接返回它，
// 驱动按 TransientTransactionError 等标签决定是否重试整个事务
func driverError(err error) error {
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		return labeled
	}
	return err
}

// Query 执行聚合并解码到 out，最多尝试 retries 次，第 n 次失败后等待 n*wait
func (c *Client) Query(ctx context.Context, collection string, pipeline interface{}, retries int, wait time.Duration, out interface{}) error {
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = c.aggregate(ctx, collection, pipeline, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.Mongodb, ctx.Err(), "query on %s canceled", collection)
		}
		c.logger.Warn("mongodb query failed",
			zap.String("collection", collection),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Mongodb, ctx.Err(), "query on %s canceled", collection)
		case <-time.After(time.Duration(attempt) * wait):
		}
	}
	return apperr.Wrap(apperr.Mongodb, lastErr, "query on %s failed after %d attempts", collection, retries)
}

func (c *Client) aggregate(ctx context.Context, collection string, pipeline interface{}, out interface{}) error {
	cursor, err := c.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

// Disconnect 关闭连接
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect mongodb: %w", err)
	}
	c.logger.Info("mongodb connection closed")
	return nil
}

// InsertMany 无序批量写入，空列表直接返回
func InsertMany(ctx context.Context, coll *mongo.Collection, docs []interface{}) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to insert into %s", coll.Name())
	}
	return nil
}

// FindOneAndUpdate upsert 更新并返回更新后的文档，out 为 nil 时不解码
func FindOneAndUpdate(ctx context.Context, coll *mongo.Collection, filter, update, out interface{}) error {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := coll.FindOneAndUpdate(ctx, filter, update, opts)
	return decodeSingle(res, coll.Name(), out)
}

// FindOneAndReplace upsert 替换并返回替换后的文档，out 为 nil 时不解码
func FindOneAndReplace(ctx context.Context, coll *mongo.Collection, filter, replacement, out interface{}) error {
	opts := options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.After)
	res := coll.FindOneAndReplace(ctx, filter, replacement, opts)
	return decodeSingle(res, coll.Name(), out)
}

func decodeSingle(res *mongo.SingleResult, name string, out interface{}) error {
	if err := res.Err(); err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to upsert into %s", name)
	}
	if out == nil {
		return nil
	}
	if err := res.Decode(out); err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to decode document from %s", name)
	}
	return nil
}
