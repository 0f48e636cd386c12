// Package store 提供文档型持久化协作层：users、query、review 三个
// 集合上的增查改删。核心问答路径只在成功作答后写一条查询日志。
package store

import (
	"context"
	"errors"
	"time"
)

// 集合名。
const (
	CollectionUsers  = "users"
	CollectionQuery  = "query"
	CollectionReview = "review"
)

// ErrNotFound FindOne 无匹配文档。
var ErrNotFound = errors.New("document not found")

// Document 无模式文档。
type Document = map[string]any

// Filter 等值过滤条件（字段 → 期望值）。
type Filter = map[string]any

// Store 持久化接口。实现必须并发安全。
type Store interface {
	Insert(ctx context.Context, collection string, doc Document) error
	Find(ctx context.Context, collection string, filter Filter) ([]Document, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	Update(ctx context.Context, collection string, filter Filter, update Document) error
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	Close(ctx context.Context) error
}

// QueryRecord 问答日志，每次成功作答后插入 query 集合。
type QueryRecord struct {
	Question string    `bson:"question" json:"question"`
	Response string    `bson:"response" json:"response"`
	UserID   string    `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Date     time.Time `bson:"date" json:"date"`
}

// ToDocument 转为无模式文档。
func (r QueryRecord) ToDocument() Document {
	doc := Document{
		"question": r.Question,
		"response": r.Response,
		"date":     r.Date,
	}
	if r.UserID != "" {
		doc["user_id"] = r.UserID
	}
	return doc
}
