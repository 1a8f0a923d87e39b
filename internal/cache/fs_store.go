package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetchcache/internal/hashaddr"
	"github.com/any-hub/fetchcache/internal/logging"
)

const tempPrefix = ".blob-"

// NewStore 以 basePath 为 blob 根目录构建磁盘存储，同一缓存实例复用一份。
func NewStore(basePath string, logger logrus.FieldLogger) (Store, error) {
	if basePath == "" {
		return nil, errors.New("blob path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve blob path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		logger:   logging.OrDiscard(logger),
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一 blob 的写入、删除与校验。
type fileStore struct {
	basePath string
	logger   logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Has(id digest.Digest) bool {
	filePath, err := s.entryPath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) Get(ctx context.Context, id digest.Digest) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(id)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry: Entry{
			ID:        id,
			FilePath:  filePath,
			SizeBytes: info.Size(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Read(ctx context.Context, id digest.Digest) ([]byte, error) {
	result, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()
	return io.ReadAll(result.Reader)
}

func (s *fileStore) Write(ctx context.Context, data []byte) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := hashaddr.ContentID(data)
	unlock := s.lockEntry(id)
	defer unlock()

	filePath, err := s.entryPath(id)
	if err != nil {
		return "", err
	}

	// 同名文件内容摘要一致才视为已写入；被截断或篡改的文件直接覆盖
	if info, err := os.Stat(filePath); err == nil && info.Mode().IsRegular() && info.Size() == int64(len(data)) {
		if actual, err := digestFile(filePath); err == nil && actual == id {
			return id, nil
		}
		s.logger.WithField("blob", id.Encoded()).Warn("existing blob does not match its name, rewriting")
	}

	tempFile, err := os.CreateTemp(s.basePath, tempPrefix+"*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return id, nil
}

func (s *fileStore) Path(id digest.Digest) (string, error) {
	return s.entryPath(id)
}

func (s *fileStore) Remove(ctx context.Context, id digest.Digest) error {
	unlock := s.lockEntry(id)
	defer unlock()

	filePath, err := s.entryPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) VerifyAndRepair(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.WithField("path", s.basePath).Info("skip blob verify")
			return report, nil
		}
		return report, err
	}

	for _, dirEntry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := dirEntry.Name()
		// 跳过目录与正在写入的临时文件
		if dirEntry.IsDir() || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		report.Scanned++

		ok, err := s.verifyEntry(name)
		if err != nil {
			s.logger.WithError(err).WithField("blob", name).Warn("blob_verify_failed")
			continue
		}
		if !ok {
			report.Removed = append(report.Removed, name)
		}
	}
	return report, nil
}

// verifyEntry 校验单个文件，返回 false 表示文件不一致且已被删除。
func (s *fileStore) verifyEntry(name string) (bool, error) {
	filePath := filepath.Join(s.basePath, name)
	unlock := s.lockName(name)
	defer unlock()

	expected, parseErr := hashaddr.ParseHex(name)
	actual, err := digestFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return true, err
	}
	if parseErr == nil && actual == expected {
		return true, nil
	}

	s.logger.WithFields(logrus.Fields{
		"action": "blob_verify",
		"blob":   name,
		"actual": actual.Encoded(),
	}).Warn("blob hash mismatch, removing")
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return false, nil
}

func (s *fileStore) Count() (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || strings.HasPrefix(dirEntry.Name(), tempPrefix) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *fileStore) lockEntry(id digest.Digest) func() {
	return s.lockName(id.Encoded())
}

func (s *fileStore) lockName(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(id digest.Digest) (string, error) {
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("invalid blob id: %w", err)
	}
	if id.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("unsupported blob algorithm: %s", id.Algorithm())
	}
	return filepath.Join(s.basePath, id.Encoded()), nil
}

func digestFile(filePath string) (digest.Digest, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.SHA256.FromReader(f)
}
