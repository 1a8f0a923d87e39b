package cache

import (
	"context"
	"errors"
	"io"

	"github.com/opencontainers/go-digest"
)

// Store 负责管理内容寻址的 blob 文件。磁盘布局遵循：
//
//	<BlobPath>/<sha256 hex>    # 原始响应正文，无扩展名
//
// 文件名恒等于其内容的 sha256，VerifyAndRepair 负责维护这一不变量。
type Store interface {
	// Has 判断 blob 文件是否存在。
	Has(id digest.Digest) bool

	// Get 返回一个可流式读取的 blob。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, id digest.Digest) (*ReadResult, error)

	// Read 一次性读出 blob 全部内容。
	Read(ctx context.Context, id digest.Digest) ([]byte, error)

	// Write 计算 data 的内容标识并写入 blob。同名文件已存在时不再重写，
	// 新文件通过临时文件 + rename 落盘。
	Write(ctx context.Context, data []byte) (digest.Digest, error)

	// Path 返回 blob 的绝对路径，供硬链接等物化操作使用。
	Path(id digest.Digest) (string, error)

	// Remove 删除 blob 文件，不存在时视为成功。
	Remove(ctx context.Context, id digest.Digest) error

	// VerifyAndRepair 重新计算每个 blob 的摘要，删除与文件名不符的文件。
	VerifyAndRepair(ctx context.Context) (VerifyReport, error)

	// Count 返回当前 blob 文件数量。
	Count() (int, error)
}

// Entry 描述一个已落盘的 blob。
type Entry struct {
	ID        digest.Digest `json:"id"`
	FilePath  string        `json:"file_path"`
	SizeBytes int64         `json:"size_bytes"`
}

// ReadResult 组合 Entry 与正文 Reader，调用方负责关闭。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// VerifyReport 汇总一次完整性扫描的结果。
type VerifyReport struct {
	Scanned int      `json:"scanned"`
	Removed []string `json:"removed"`
}

// ErrNotFound 表示 blob 不存在。
var ErrNotFound = errors.New("blob not found")
