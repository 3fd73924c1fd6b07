package document

import (
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

//Cache keeps parsed import documents so that every import packet does not
//re-read the whole file. An entry is dropped when the file size or
//modification time changes.
type Cache struct {
	mutex   sync.Mutex
	entries *lru.Cache[string, *cacheEntry]
}

type cacheEntry struct {
	document *Document
	size     int64
	modTime  time.Time
}

func NewCache(size int) *Cache {
	if size < 1 {
		size = 1
	}
	//only fails on a non-positive size
	entries, _ := lru.New[string, *cacheEntry](size)
	return &Cache{entries: entries}
}

func (c *Cache) Get(path string) (*Document, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		c.Forget(path)
		return nil, errors.Wrapf(ErrArtifactMissing, "'%s'", path)
	} else if err != nil {
		return nil, errors.Wrapf(err, "document: stat '%s'", path)
	}

	//one parse per path at a time
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if entry, ok := c.entries.Get(path); ok {
		if entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
			return entry.document, nil
		}
		c.entries.Remove(path)
	}

	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	c.entries.Add(path, &cacheEntry{document: doc, size: info.Size(), modTime: info.ModTime()})
	return doc, nil
}

func (c *Cache) Forget(path string) {
	c.entries.Remove(path)
}

func (c *Cache) Flush() {
	c.entries.Purge()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
