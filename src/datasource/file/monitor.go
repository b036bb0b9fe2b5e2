// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor 监听单个文件的写入/替换
type FileMonitor struct {
	target  string
	watcher *fsnotify.Watcher
	lastMod time.Time
	mu      sync.Mutex
}

// NewFileMonitor 监听文件所在目录，编辑器/脚本通常以重命名方式替换文件
func NewFileMonitor(target string) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &FileMonitor{
		target:  filepath.Clean(target),
		watcher: watcher,
	}, nil
}

// Watch 阻塞直到ctx取消；目标文件每次变化调用一次handler
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	defer m.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if m.changed() {
				handler(m.target)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// changed 文件被删除或修改时间变化时为true
func (m *FileMonitor) changed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.target)
	if err != nil {
		m.lastMod = time.Time{}
		return true
	}
	if info.ModTime().Equal(m.lastMod) {
		return false
	}
	m.lastMod = info.ModTime()
	return true
}
