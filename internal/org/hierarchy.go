package org

import "fmt"

// TreeNode is one organization with its nested sub-organizations.
type TreeNode struct {
	Organization Organization `json:"organization"`
	Children     []*TreeNode  `json:"children"`
}

// Roots returns organizations without a parent.
func (s *Service) Roots() []Organization {
	return s.orgs.Filter(func(o Organization) bool { return o.ParentID == "" })
}

// Ancestors returns the chain of parents of id, root first.
func (s *Service) Ancestors(id string) ([]Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.orgs.Get(id)
	if err != nil {
		return nil, err
	}

	chain := make([]Organization, 0)
	seen := map[string]struct{}{current.ID: {}}
	for current.ParentID != "" {
		parent, err := s.orgs.Get(current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("broken hierarchy at %s: %w", current.ID, err)
		}
		if _, loop := seen[parent.ID]; loop {
			return nil, fmt.Errorf("%w: hierarchy cycle at %s", ErrInvalidState, parent.ID)
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Descendants returns every organization below id in breadth-first order.
func (s *Service) Descendants(id string) ([]Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.orgs.Has(id) {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	return s.descendantsLocked(id), nil
}

func (s *Service) descendantsLocked(id string) []Organization {
	out := make([]Organization, 0)
	queue := []string{id}
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		for _, child := range mustLookup(s.orgs, orgIndexParent, head) {
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

// Path returns organization names from the root down to id.
func (s *Service) Path(id string) ([]string, error) {
	ancestors, err := s.Ancestors(id)
	if err != nil {
		return nil, err
	}
	self, err := s.orgs.Get(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ancestors)+1)
	for _, a := range ancestors {
		names = append(names, a.Name)
	}
	return append(names, self.Name), nil
}

// Depth is the number of edges between id and its root.
func (s *Service) Depth(id string) (int, error) {
	ancestors, err := s.Ancestors(id)
	if err != nil {
		return 0, err
	}
	return len(ancestors), nil
}

// IsAncestor reports whether ancestorID appears above id in the hierarchy.
func (s *Service) IsAncestor(ancestorID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAncestorLocked(ancestorID, id)
}

func (s *Service) isAncestorLocked(ancestorID, id string) bool {
	current, err := s.orgs.Get(id)
	if err != nil {
		return false
	}
	seen := make(map[string]struct{})
	for current.ParentID != "" {
		if current.ParentID == ancestorID {
			return true
		}
		if _, loop := seen[current.ParentID]; loop {
			return false
		}
		seen[current.ParentID] = struct{}{}
		current, err = s.orgs.Get(current.ParentID)
		if err != nil {
			return false
		}
	}
	return false
}

// Tree builds the nested hierarchy under rootID. An empty rootID returns a
// forest of every root organization.
func (s *Service) Tree(rootID string) ([]*TreeNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var roots []Organization
	if rootID == "" {
		roots = s.orgs.Filter(func(o Organization) bool { return o.ParentID == "" })
	} else {
		root, err := s.orgs.Get(rootID)
		if err != nil {
			return nil, err
		}
		roots = []Organization{root}
	}

	out := make([]*TreeNode, 0, len(roots))
	for _, root := range roots {
		out = append(out, s.buildNodeLocked(root))
	}
	return out, nil
}

func (s *Service) buildNodeLocked(o Organization) *TreeNode {
	node := &TreeNode{Organization: o, Children: make([]*TreeNode, 0)}
	for _, child := range mustLookup(s.orgs, orgIndexParent, o.ID) {
		node.Children = append(node.Children, s.buildNodeLocked(child))
	}
	return node
}

// AgentOrganizations lists every organization an agent belongs to.
func (s *Service) AgentOrganizations(agentID string) []Organization {
	return mustLookup(s.orgs, orgIndexAgent, agentID)
}
