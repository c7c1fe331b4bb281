package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of distinct skeletons kept parsed.
const DefaultCacheSize = 8

// SkeletonCache parses each distinct encoded skeleton once. Returned
// templates are shared and must not be mutated; Build clones them.
type SkeletonCache struct {
	templates *lru.Cache[string, *Container]
}

// NewSkeletonCache creates a cache holding up to size skeletons.
func NewSkeletonCache(size int) (*SkeletonCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	templates, err := lru.New[string, *Container](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create skeleton cache: %w", err)
	}
	return &SkeletonCache{templates: templates}, nil
}

// Get returns the parsed template for an encoded skeleton.
func (c *SkeletonCache) Get(encoded string) (*Container, error) {
	sum := sha256.Sum256([]byte(encoded))
	key := hex.EncodeToString(sum[:])

	if template, ok := c.templates.Get(key); ok {
		return template, nil
	}

	template, err := DecodeSkeleton(encoded)
	if err != nil {
		return nil, err
	}
	c.templates.Add(key, template)
	return template, nil
}

// Len returns the number of cached skeletons.
func (c *SkeletonCache) Len() int {
	return c.templates.Len()
}
