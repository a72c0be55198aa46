// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// EmbeddingTimeout is the timeout for embedding generation.
	// EmbeddingTimeout 是向量生成的超时时间。
	EmbeddingTimeout = 30 * time.Second

	// CaptionTimeout is the timeout for image caption generation.
	// CaptionTimeout 是图片描述生成的超时时间。
	CaptionTimeout = 60 * time.Second

	// VectorIndexTimeout is the timeout for a single vector index call.
	// VectorIndexTimeout 是单次向量索引调用的超时时间。
	VectorIndexTimeout = 10 * time.Second

	// ObjectFetchTimeout is the timeout for reading an asset from object storage.
	// ObjectFetchTimeout 是从对象存储读取文件的超时时间。
	ObjectFetchTimeout = 30 * time.Second
)
