package profile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeFormat is the timestamp layout used for metadata.last_modified.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Node is a member of a profile tree.
type Node interface {
	json.Marshaler
	clone() Node
}

// Metadata is the metadata sub-record of a Leaf.
type Metadata struct {
	Classification string  `json:"classification,omitempty"`
	LastModified   string  `json:"last_modified,omitempty"`
	Created        string  `json:"created,omitempty"`
	Verified       bool    `json:"verified"`
	Display        *string `json:"display"`
}

// Publisher is one signature of an attribute.
type Publisher struct {
	Alg   string `json:"alg"`
	Typ   string `json:"typ"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Signature is the signature envelope of a Leaf.
type Signature struct {
	Publisher  Publisher   `json:"publisher"`
	Additional []Publisher `json:"additional"`
}

// Leaf is a signable attribute.
type Leaf struct {
	// ValueKey is "value" for scalar attributes and "values" for mappings.
	ValueKey  string
	Value     any
	Metadata  Metadata
	Signature Signature
}

// Content returns the attribute without its signature, which is what gets
// signed.
func (l *Leaf) Content() map[string]any {
	key := l.ValueKey
	if key == "" {
		key = "value"
	}
	return map[string]any{
		"metadata": l.Metadata,
		key:        l.Value,
	}
}

// MarshalJSON implements json.Marshaler.
func (l *Leaf) MarshalJSON() ([]byte, error) {
	content := l.Content()
	content["signature"] = l.Signature
	return json.Marshal(content)
}

// Set assigns a value and marks the attribute as written by publisher at now.
func (l *Leaf) Set(value any, publisher string, now time.Time) {
	l.Value = value
	l.Stamp(publisher, now)
}

// SetEntry adds key to a "values" mapping, keeping existing entries.
func (l *Leaf) SetEntry(key string, value any, publisher string, now time.Time) {
	values, ok := l.Value.(map[string]any)
	if !ok {
		values = make(map[string]any)
	}
	values[key] = value
	l.Value = values
	l.Stamp(publisher, now)
}

// Stamp records publisher as the signer of the attribute.
func (l *Leaf) Stamp(publisher string, now time.Time) {
	l.Metadata.LastModified = now.UTC().Format(TimeFormat)
	l.Signature.Publisher.Name = publisher
}

func (l *Leaf) clone() Node {
	c := *l
	c.Value = cloneValue(l.Value)
	if l.Metadata.Display != nil {
		display := *l.Metadata.Display
		c.Metadata.Display = &display
	}
	if l.Signature.Additional != nil {
		c.Signature.Additional = append([]Publisher(nil), l.Signature.Additional...)
	}
	return &c
}

// Container groups named nodes.
type Container struct {
	Children map[string]Node
}

// NewContainer returns an empty Container.
func NewContainer() *Container {
	return &Container{Children: make(map[string]Node)}
}

// Names returns the child names in sorted order.
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.Children))
	for name := range c.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler.
func (c *Container) MarshalJSON() ([]byte, error) {
	if c.Children == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.Children)
}

// Clone returns a deep copy of the tree.
func (c *Container) Clone() *Container {
	return c.clone().(*Container)
}

func (c *Container) clone() Node {
	out := &Container{Children: make(map[string]Node, len(c.Children))}
	for name, child := range c.Children {
		out.Children[name] = child.clone()
	}
	return out
}

// PathError reports a path that does not lead to an attribute.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("profile path %s: %s", e.Path, e.Reason)
}

// Leaf walks path from c and returns the attribute found there.
func (c *Container) Leaf(path ...string) (*Leaf, error) {
	current := c
	for i, name := range path {
		child, ok := current.Children[name]
		if !ok {
			return nil, &PathError{Path: strings.Join(path, "."), Reason: "not present in skeleton"}
		}
		last := i == len(path)-1
		switch n := child.(type) {
		case *Leaf:
			if !last {
				return nil, &PathError{Path: strings.Join(path, "."), Reason: name + " is an attribute, not a group"}
			}
			return n, nil
		case *Container:
			if last {
				return nil, &PathError{Path: strings.Join(path, "."), Reason: "is a group, not an attribute"}
			}
			current = n
		default:
			return nil, &PathError{Path: strings.Join(path, "."), Reason: name + " is not an attribute"}
		}
	}
	return nil, &PathError{Path: "", Reason: "empty path"}
}

// Raw is a non-attribute value kept verbatim.
type Raw struct {
	Message json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (r *Raw) MarshalJSON() ([]byte, error) {
	if len(r.Message) == 0 {
		return []byte("null"), nil
	}
	return r.Message, nil
}

func (r *Raw) clone() Node {
	return &Raw{Message: append(json.RawMessage(nil), r.Message...)}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
