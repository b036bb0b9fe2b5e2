package processor

import (
	"errors"
	"os"
	"sync"
	"time"

	"SiniestralidadVial/src/config"
)

// DatasetCache 单条目缓存，键为(路径, 修改时间)
// checkModTime为false时首次成功加载后一直使用，直到进程重启或显式Invalidate
type DatasetCache struct {
	path         string
	dcfg         *config.DataConfig
	checkModTime bool

	mu      sync.Mutex
	ds      *Dataset
	modTime time.Time
	loads   int
}

func NewDatasetCache(path string, dcfg *config.DataConfig, checkModTime bool) *DatasetCache {
	return &DatasetCache{path: path, dcfg: dcfg, checkModTime: checkModTime}
}

// Path 缓存对应的数据文件
func (c *DatasetCache) Path() string {
	return c.path
}

// Get 返回缓存的数据集，必要时重新加载
func (c *DatasetCache) Get() (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ds != nil && !c.checkModTime {
		return c.ds, nil
	}

	info, err := os.Stat(c.path)
	if err != nil {
		c.ds = nil
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError(KindFileNotFound, StepRead, errors.New(MissingDataMessage(c.path)))
		}
		return nil, newError(KindParse, StepRead, err)
	}
	if c.ds != nil && info.ModTime().Equal(c.modTime) {
		return c.ds, nil
	}

	ds, err := LoadDataset(c.path, c.dcfg)
	c.loads++
	if err != nil {
		c.ds = nil
		return nil, err
	}
	c.ds = ds
	c.modTime = info.ModTime()
	return ds, nil
}

// Invalidate 清空缓存，下次Get重新加载
func (c *DatasetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ds = nil
	c.modTime = time.Time{}
}
