// Package index keeps the lookup-key → cache-record mapping. The mapping is
// loaded once from a YAML file, mutated in memory as fetches succeed, and
// written back by Commit through a temp file + rename so an interrupted commit
// never leaves a half-written mapping behind.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/any-hub/fetchcache/internal/hashaddr"
)

// FileName 是索引文件在索引目录中的名称。
const FileName = "mapping.yaml"

// ErrCorruptIndex 表示索引文件存在但无法解析，调用方需决定如何处理，不会被静默重置。
var ErrCorruptIndex = errors.New("corrupt cache index")

// Record 是一条缓存记录：内容标识加上产生它的原始请求。
type Record struct {
	ContentID string           `yaml:"data"`
	URL       string           `yaml:"url"`
	Params    []hashaddr.Param `yaml:"params,omitempty"`
}

// NewRecord 由内容标识与请求描述构造记录。
func NewRecord(contentID string, req hashaddr.Request) Record {
	return Record{
		ContentID: contentID,
		URL:       req.URL,
		Params:    append([]hashaddr.Param(nil), req.Params...),
	}
}

// Store 是内存中的映射及其持久化文件。
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]Record
	dirty   bool
	// version 在每次修改映射时递增，Commit 据此判断快照之后是否有新的修改
	version uint64

	commitMu sync.Mutex
}

// afterSnapshot 在 Commit 取完快照、写文件之前调用，仅供测试注入并发修改。
var afterSnapshot = func(*Store) {}

// Open 在 dir 下定位 mapping.yaml 并加载；文件不存在时得到空索引。
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("index path required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index path: %w", err)
	}
	s := &Store{
		path:    filepath.Join(dir, FileName),
		entries: make(map[string]Record),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 返回索引文件路径。
func (s *Store) Path() string {
	return s.path
}

// Load 从磁盘重新读取映射，替换内存中的全部内容。
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.mu.Lock()
			s.entries = make(map[string]Record)
			s.dirty = false
			s.version++
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read index %s: %w", s.path, err)
	}

	entries := make(map[string]Record)
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptIndex, s.path, err)
	}
	for key, record := range entries {
		if _, err := hashaddr.ParseHex(key); err != nil {
			return fmt.Errorf("%w: %s: bad key %q", ErrCorruptIndex, s.path, key)
		}
		if _, err := hashaddr.ParseHex(record.ContentID); err != nil {
			return fmt.Errorf("%w: %s: entry %s: %v", ErrCorruptIndex, s.path, key, err)
		}
	}
	if entries == nil {
		entries = make(map[string]Record)
	}

	s.mu.Lock()
	s.entries = entries
	s.dirty = false
	s.version++
	s.mu.Unlock()
	return nil
}

// Lookup 返回 key 对应的记录。
func (s *Store) Lookup(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.entries[key]
	return record, ok
}

// Upsert 仅修改内存映射，持久化由 Commit 完成。
func (s *Store) Upsert(key string, record Record) {
	s.mu.Lock()
	s.entries[key] = record
	s.dirty = true
	s.version++
	s.mu.Unlock()
}

// Len 返回记录数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys 返回排序后的全部 lookup key。
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Dirty 表示内存中存在尚未提交的修改。
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Commit 序列化完整映射并原子替换索引文件。并发调用会被串行化。
func (s *Store) Commit() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]Record, len(s.entries))
	for key, record := range s.entries {
		snapshot[key] = record
	}
	version := s.version
	s.mu.RUnlock()
	afterSnapshot(s)

	payload, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(s.path)
	tempFile, err := os.CreateTemp(dir, ".mapping-*")
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("replace index: %w", err)
	}

	s.mu.Lock()
	// 提交期间发生的 Upsert 不在快照里，只有映射未再变化时才清除 dirty
	if s.version == version {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}
