// Package category holds the hierarchy rules for tenant categories: cycle
// detection on re-parenting, nested tree assembly and breadcrumb paths.
// All walks are iterative so a deep or corrupt hierarchy cannot exhaust the stack.
package category

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
)

const PathSeparator = " > "

// Getter loads a category of the caller's tenant. It returns store.ErrNotFound
// when the id does not exist.
type Getter func(ctx context.Context, id string) (domain.Category, error)

// CheckNoCycle walks the parent chain upward from candidateParentID and fails
// with store.ErrCircularReference if it reaches excludeID. A revisited node ends
// the walk without error, as does a root or a dangling parent reference.
func CheckNoCycle(ctx context.Context, get Getter, candidateParentID string, excludeID string) error {
	visited := make(map[string]struct{})
	current := candidateParentID
	for current != "" {
		if excludeID != "" && current == excludeID {
			return store.ErrCircularReference
		}
		if _, seen := visited[current]; seen {
			return nil
		}
		visited[current] = struct{}{}

		node, err := get(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = node.Parent()
	}
	return nil
}

// BuildTree nests a flat tenant category list. Siblings keep their input order.
// Categories whose parent is not in the list are left out, as are members of
// parent cycles, since neither is reachable from a root.
func BuildTree(categories []domain.Category) []*domain.CategoryNode {
	nodes := make([]*domain.CategoryNode, len(categories))
	childrenOf := make(map[string][]int, len(categories))
	for i, c := range categories {
		nodes[i] = &domain.CategoryNode{Category: c, Children: []*domain.CategoryNode{}}
		childrenOf[c.Parent()] = append(childrenOf[c.Parent()], i)
	}

	roots := make([]*domain.CategoryNode, 0, len(childrenOf[""]))
	stack := make([]*domain.CategoryNode, 0, len(categories))
	attached := make(map[string]struct{}, len(categories))
	for _, idx := range childrenOf[""] {
		roots = append(roots, nodes[idx])
		stack = append(stack, nodes[idx])
		attached[nodes[idx].ID] = struct{}{}
	}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, idx := range childrenOf[node.ID] {
			child := nodes[idx]
			if _, ok := attached[child.ID]; ok {
				continue
			}
			attached[child.ID] = struct{}{}
			node.Children = append(node.Children, child)
			stack = append(stack, child)
		}
	}
	return roots
}

// Path joins category names from the root down to id.
func Path(ctx context.Context, get Getter, id string) (string, error) {
	names := make([]string, 0, 8)
	visited := make(map[string]struct{})
	current := id
	for current != "" {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}

		node, err := get(ctx, current)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) && current != id {
				break
			}
			return "", fmt.Errorf("category path: %w", err)
		}
		names = append(names, node.Name)
		current = node.Parent()
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, PathSeparator), nil
}

var nonSlugChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Slugify lowercases name and collapses every run of characters that are not
// letters or digits, in any script, into "-". It returns "" for a name made
// only of punctuation or symbols.
func Slugify(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(slug, "-")
}
