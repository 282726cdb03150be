package translation

import (
	"context"
	"sync"

	"contentsync/internal/model"
	"contentsync/internal/nodectx"
)

// Static is an in-process provider holding language assignments and
// translation groups in memory. It backs tests and single-language
// deployments where no external tool exists.
type Static struct {
	ToolName string

	mu sync.Mutex
	// languages maps node id -> post id -> language code.
	languages map[int64]map[int64]string
	// groups maps node id -> post id -> code -> sibling post id.
	groups map[int64]map[int64]map[string]int64
}

// NewStatic returns an empty Static provider reporting toolName.
func NewStatic(toolName string) *Static {
	return &Static{
		ToolName:  toolName,
		languages: make(map[int64]map[int64]string),
		groups:    make(map[int64]map[int64]map[string]int64),
	}
}

// SetLanguage assigns a language code to a post.
func (s *Static) SetLanguage(nodeID, postID int64, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.languages[nodeID] == nil {
		s.languages[nodeID] = make(map[int64]string)
	}
	s.languages[nodeID][postID] = code
}

func (s *Static) Detect(ctx context.Context, node *nodectx.Node) string {
	return s.ToolName
}

func (s *Static) LanguageInfo(ctx context.Context, node *nodectx.Node, post *model.Post) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.languages[node.ID][post.ID]
	if code == "" {
		code = node.DefaultLanguage
	}
	return &Info{Code: code, Tool: s.ToolName}, nil
}

func (s *Static) Translations(ctx context.Context, node *nodectx.Node, post *model.Post) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group := s.groups[node.ID][post.ID]
	out := make(map[string]int64, len(group))
	for code, id := range group {
		out[code] = id
	}
	return out, nil
}

func (s *Static) SetTranslations(ctx context.Context, node *nodectx.Node, id int64, code string, siblings map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.languages[node.ID] == nil {
		s.languages[node.ID] = make(map[int64]string)
	}
	s.languages[node.ID][id] = code

	group := map[string]int64{code: id}
	for c, sib := range siblings {
		group[c] = sib
	}
	if s.groups[node.ID] == nil {
		s.groups[node.ID] = make(map[int64]map[string]int64)
	}
	// every member sees the whole group
	for _, member := range group {
		s.groups[node.ID][member] = group
	}
	return nil
}

// Group returns the translation group of a post (code -> id), for
// inspection in tests.
func (s *Static) Group(nodeID, postID int64) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[nodeID][postID]
}
