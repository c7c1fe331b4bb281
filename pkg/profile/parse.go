package profile

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotObject is returned when a skeleton is not a JSON object.
var ErrNotObject = errors.New("profile skeleton must be a JSON object")

// ErrRootIsAttribute is returned when the document root is itself a signed
// attribute rather than a group of them.
var ErrRootIsAttribute = errors.New("profile root must be a group of attributes")

// SkeletonError reports a skeleton that cannot be used.
type SkeletonError struct {
	Err error
}

func (e *SkeletonError) Error() string {
	return "invalid profile skeleton: " + e.Err.Error()
}

func (e *SkeletonError) Unwrap() error {
	return e.Err
}

// DecodeSkeleton parses a base64-encoded skeleton.
func DecodeSkeleton(encoded string) (*Container, error) {
	compact := strings.Join(strings.Fields(encoded), "")
	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, &SkeletonError{Err: fmt.Errorf("decode base64: %w", err)}
	}
	return Parse(data)
}

// Parse parses a JSON profile document.
func Parse(data []byte) (*Container, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, &SkeletonError{Err: ErrNotObject}
	}

	node, err := parseNode("", data)
	if err != nil {
		return nil, &SkeletonError{Err: err}
	}
	root, ok := node.(*Container)
	if !ok {
		return nil, &SkeletonError{Err: ErrRootIsAttribute}
	}
	return root, nil
}

func parseNode(path string, data json.RawMessage) (Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &Raw{Message: append(json.RawMessage(nil), trimmed...)}, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("%s: %w", displayPath(path), err)
	}

	if _, ok := members["signature"]; ok {
		return parseLeaf(path, members)
	}

	container := &Container{Children: make(map[string]Node, len(members))}
	for name, raw := range members {
		child, err := parseNode(joinPath(path, name), raw)
		if err != nil {
			return nil, err
		}
		container.Children[name] = child
	}
	return container, nil
}

func parseLeaf(path string, members map[string]json.RawMessage) (*Leaf, error) {
	leaf := &Leaf{ValueKey: "value"}

	if raw, ok := members["metadata"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &leaf.Metadata); err != nil {
			return nil, fmt.Errorf("%s.metadata: %w", displayPath(path), err)
		}
	}
	if raw := members["signature"]; !isNull(raw) {
		if err := json.Unmarshal(raw, &leaf.Signature); err != nil {
			return nil, fmt.Errorf("%s.signature: %w", displayPath(path), err)
		}
	}

	raw, ok := members["value"]
	if !ok {
		if raw, ok = members["values"]; ok {
			leaf.ValueKey = "values"
		}
	}
	if ok && !isNull(raw) {
		value, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", displayPath(path), leaf.ValueKey, err)
		}
		leaf.Value = value
	}
	return leaf, nil
}

// decodeValue keeps numbers as json.Number so they can be re-rendered
// exactly.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
