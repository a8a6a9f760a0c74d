package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mvideodk-relay/pkg/logger"
)

const stateFileName = "state.json"

// DiskStorage keeps every key in one JSON document. Other processes may
// write the same file, so reads reload it whenever its mtime moves.
type DiskStorage struct {
	dataDir string
	mu      sync.RWMutex
	cache   map[string]string
	modTime time.Time
	size    int64
}

func NewDiskStorage(dataDir string) *DiskStorage {
	return &DiskStorage{
		dataDir: dataDir,
		cache:   make(map[string]string),
	}
}

func (d *DiskStorage) statePath() string {
	return filepath.Join(d.dataDir, stateFileName)
}

func (d *DiskStorage) Init() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "backup"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.statePath()); os.IsNotExist(err) {
		if err := d.save(map[string]string{}); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}
	if err := d.reloadLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Debugf("Disk storage initialized at %s", d.dataDir)
	return nil
}

// reloadLocked refreshes the cache if the file changed since the last read.
// Callers hold d.mu for writing.
func (d *DiskStorage) reloadLocked() error {
	info, err := os.Stat(d.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			d.cache = make(map[string]string)
			d.modTime = time.Time{}
			d.size = 0
			return nil
		}
		return err
	}
	if info.ModTime().Equal(d.modTime) && info.Size() == d.size && d.cache != nil {
		return nil
	}

	data, err := os.ReadFile(d.statePath())
	if err != nil {
		return err
	}

	values := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}

	d.cache = values
	d.modTime = info.ModTime()
	d.size = info.Size()
	return nil
}

func (d *DiskStorage) save(values map[string]string) error {
	path := d.statePath()
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (d *DiskStorage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reloadLocked(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	v, ok := d.cache[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (d *DiskStorage) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reloadLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	next := make(map[string]string, len(d.cache)+1)
	for k, v := range d.cache {
		next[k] = v
	}
	next[key] = value

	if err := d.save(next); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache = next
	if info, err := os.Stat(d.statePath()); err == nil {
		d.modTime = info.ModTime()
		d.size = info.Size()
	}
	return nil
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]string)
	d.modTime = time.Time{}
	d.size = 0
	return nil
}

func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	data, err := os.ReadFile(d.statePath())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, stateFileName), data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}
