package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"contentsync/internal/common"
	"contentsync/internal/model"
)

// Memory is a Store kept entirely in process memory. It backs tests and
// the archive-only CLI mode where no database is configured.
type Memory struct {
	mu         sync.Mutex
	nextPostID int64
	nextTermID int64
	// posts[nodeID][postID]
	posts map[int64]map[int64]*model.Post
	// terms[nodeID][termID]
	terms map[int64]map[int64]*term
	// assignments[nodeID][postID][taxonomy] -> term ids
	assignments map[int64]map[int64]map[string][]int64
}

// flat term row; parent chains are resolved on read.
type term struct {
	ID       int64
	Name     string
	Slug     string
	Taxonomy string
	ParentID int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextPostID:  1,
		nextTermID:  1,
		posts:       make(map[int64]map[int64]*model.Post),
		terms:       make(map[int64]map[int64]*term),
		assignments: make(map[int64]map[int64]map[string][]int64),
	}
}

func clonePost(p *model.Post) *model.Post {
	c := *p
	c.Meta = make(map[string]string, len(p.Meta))
	for k, v := range p.Meta {
		c.Meta[k] = v
	}
	return &c
}

func (s *Memory) Get(ctx context.Context, nodeID, id int64) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[nodeID][id]
	if !ok {
		return nil, fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
	}
	return clonePost(p), nil
}

func (s *Memory) Create(ctx context.Context, nodeID int64, post *model.Post) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts[nodeID] == nil {
		s.posts[nodeID] = make(map[int64]*model.Post)
	}
	id := s.nextPostID
	s.nextPostID++
	c := clonePost(post)
	c.ID = id
	s.posts[nodeID][id] = c
	return id, nil
}

func (s *Memory) Update(ctx context.Context, nodeID int64, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[nodeID][post.ID]; !ok {
		return fmt.Errorf("post %d on node %d: %w", post.ID, nodeID, common.ErrNotFound)
	}
	s.posts[nodeID][post.ID] = clonePost(post)
	return nil
}

func (s *Memory) Delete(ctx context.Context, nodeID, id int64, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[nodeID][id]
	if !ok {
		return fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
	}
	if permanent {
		delete(s.posts[nodeID], id)
		delete(s.assignments[nodeID], id)
		return nil
	}
	p.Status = "trash"
	return nil
}

func (s *Memory) FindByName(ctx context.Context, nodeID int64, name, typ string) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts[nodeID] {
		if p.Name == name && p.Type == typ && p.Status != "trash" {
			return clonePost(p), nil
		}
	}
	return nil, fmt.Errorf("post %q (%s) on node %d: %w", name, typ, nodeID, common.ErrNotFound)
}

func (s *Memory) FindByMeta(ctx context.Context, nodeID int64, key, value string) ([]*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Post
	for _, p := range s.posts[nodeID] {
		if p.Meta[key] == value {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) List(ctx context.Context, nodeID int64, f Filter) ([]*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Post
	for _, p := range s.posts[nodeID] {
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Search != "" &&
			!strings.Contains(p.Name, f.Search) &&
			!strings.Contains(p.Title, f.Search) {
			continue
		}
		out = append(out, clonePost(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Memory) SetMeta(ctx context.Context, nodeID, id int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[nodeID][id]
	if !ok {
		return fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
	}
	p.SetMeta(key, value)
	return nil
}

func (s *Memory) DeleteMeta(ctx context.Context, nodeID, id int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[nodeID][id]
	if !ok {
		return fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
	}
	delete(p.Meta, key)
	return nil
}

// resolve builds a model.Term with its parent chain. Caller holds the lock.
func (s *Memory) resolve(nodeID int64, t *term) model.Term {
	out := model.Term{ID: t.ID, Name: t.Name, Slug: t.Slug, Taxonomy: t.Taxonomy}
	if t.ParentID != 0 {
		if parent, ok := s.terms[nodeID][t.ParentID]; ok {
			p := s.resolve(nodeID, parent)
			out.Parent = &p
		}
	}
	return out
}

func (s *Memory) TermsOf(ctx context.Context, nodeID, id int64) (map[string][]model.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.Term)
	for taxonomy, ids := range s.assignments[nodeID][id] {
		for _, tid := range ids {
			if t, ok := s.terms[nodeID][tid]; ok {
				out[taxonomy] = append(out[taxonomy], s.resolve(nodeID, t))
			}
		}
	}
	return out, nil
}

func (s *Memory) TermsOfTaxonomy(ctx context.Context, nodeID int64, taxonomy string) ([]model.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Term
	for _, t := range s.terms[nodeID] {
		if t.Taxonomy == taxonomy {
			out = append(out, s.resolve(nodeID, t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) Term(ctx context.Context, nodeID, termID int64) (*model.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[nodeID][termID]
	if !ok {
		return nil, fmt.Errorf("term %d on node %d: %w", termID, nodeID, common.ErrNotFound)
	}
	out := s.resolve(nodeID, t)
	return &out, nil
}

func (s *Memory) EnsureTerm(ctx context.Context, nodeID int64, t model.Term) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureTermLocked(nodeID, t)
}

func (s *Memory) ensureTermLocked(nodeID int64, t model.Term) (int64, error) {
	for _, existing := range s.terms[nodeID] {
		if existing.Slug == t.Slug && existing.Taxonomy == t.Taxonomy {
			return existing.ID, nil
		}
	}
	var parentID int64
	if t.Parent != nil {
		id, err := s.ensureTermLocked(nodeID, *t.Parent)
		if err != nil {
			return 0, err
		}
		parentID = id
	}
	if s.terms[nodeID] == nil {
		s.terms[nodeID] = make(map[int64]*term)
	}
	id := s.nextTermID
	s.nextTermID++
	s.terms[nodeID][id] = &term{
		ID: id, Name: t.Name, Slug: t.Slug, Taxonomy: t.Taxonomy, ParentID: parentID,
	}
	return id, nil
}

func (s *Memory) AssignTerms(ctx context.Context, nodeID, id int64, taxonomy string, termIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[nodeID][id]; !ok {
		return fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
	}
	if s.assignments[nodeID] == nil {
		s.assignments[nodeID] = make(map[int64]map[string][]int64)
	}
	if s.assignments[nodeID][id] == nil {
		s.assignments[nodeID][id] = make(map[string][]int64)
	}
	s.assignments[nodeID][id][taxonomy] = append([]int64(nil), termIDs...)
	return nil
}
