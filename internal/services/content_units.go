package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type contentNode struct {
	Key      string         `json:"key"`
	Title    string         `json:"title"`
	Children []*contentNode `json:"children"`
}

// LeafUnitKeys walks a project structure tree and returns one key per leaf.
// The document may be a single root node, whose children are the top level,
// or a list of top-level nodes. Leaves without a usable key, or with
// a key already taken, are keyed by their index path ("1.2.3"), suffixed
// with "#n" if that path is itself taken. Keys are always unique.
func LeafUnitKeys(structure []byte) ([]string, error) {
	raw := strings.TrimSpace(string(structure))
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var roots []*contentNode
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &roots); err != nil {
			return nil, fmt.Errorf("decode content structure: %w", err)
		}
	} else {
		var root contentNode
		if err := json.Unmarshal([]byte(raw), &root); err != nil {
			return nil, fmt.Errorf("decode content structure: %w", err)
		}
		roots = root.Children
	}

	seen := map[string]bool{}
	var keys []string
	var walk func(nodes []*contentNode, prefix string)
	walk = func(nodes []*contentNode, prefix string) {
		for i, n := range nodes {
			if n == nil {
				continue
			}
			path := strconv.Itoa(i + 1)
			if prefix != "" {
				path = prefix + "." + path
			}
			if len(n.Children) > 0 {
				walk(n.Children, path)
				continue
			}
			key := strings.TrimSpace(n.Key)
			if key == "" || seen[key] {
				key = path
				for n := 2; seen[key]; n++ {
					key = path + "#" + strconv.Itoa(n)
				}
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	walk(roots, "")
	return keys, nil
}
