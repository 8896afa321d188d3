package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Supplier 推理供应方（节点）
type Supplier struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Address        string             `json:"address" bson:"address"`
	Service        string             `json:"service" bson:"service"`
	LastSeenHeight int64              `json:"last_seen_height" bson:"last_seen_height"`
	LastSeenTime   time.Time          `json:"last_seen_time" bson:"last_seen_time"`
	TokenizerHash  string             `json:"tokenizer_hash,omitempty" bson:"tokenizer_hash,omitempty"`
	ConfigHash     string             `json:"config_hash,omitempty" bson:"config_hash,omitempty"`
}
