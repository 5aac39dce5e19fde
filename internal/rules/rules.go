package rules

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"inkwell/internal/model"
	"inkwell/internal/source"
)

var ErrInvalidInput = errors.New("invalid rules input")

type Repository interface {
	Get(ctx context.Context, workspaceID string) (*model.Rules, error)
	Upsert(ctx context.Context, rules *model.Rules) error
}

// Block is the rendered instruction block for one workspace.
type Block struct {
	Text    string
	Default bool
}

type Provider struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewProvider(repo Repository, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{repo: repo, logger: logger, now: time.Now}
}

// Block renders the workspace rules. A workspace without rules gets the default block.
func (p *Provider) Block(ctx context.Context, workspaceID string) (Block, error) {
	rules, err := p.repo.Get(ctx, workspaceID)
	if err != nil {
		return Block{Text: source.DefaultPreamble, Default: true}, err
	}
	if rules == nil || rules.Content.Empty() {
		return Block{Text: source.DefaultPreamble, Default: true}, nil
	}
	return Block{Text: Render(rules.Content)}, nil
}

func (p *Provider) Get(ctx context.Context, workspaceID string) (model.RulesContent, error) {
	rules, err := p.repo.Get(ctx, workspaceID)
	if err != nil {
		return model.RulesContent{}, err
	}
	if rules == nil {
		return model.RulesContent{}, nil
	}
	return rules.Content, nil
}

func (p *Provider) Save(ctx context.Context, workspaceID string, content model.RulesContent) (*model.Rules, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrInvalidInput
	}
	content = clean(content)
	rules := &model.Rules{WorkspaceID: workspaceID, Content: content, UpdatedAt: p.now()}
	if err := p.repo.Upsert(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Render formats rules content as prompt lines.
func Render(c model.RulesContent) string {
	lines := []string{source.DefaultPreamble}
	if c.Personality != "" {
		lines = append(lines, "Personality: "+c.Personality)
	}
	if c.Tone != "" {
		lines = append(lines, "Tone: "+c.Tone)
	}
	if c.Style != "" {
		lines = append(lines, "Style: "+c.Style)
	}
	if c.Domain != "" {
		lines = append(lines, "Domain expertise: "+c.Domain)
	}
	lines = appendList(lines, "Constraints:", c.Constraints)
	lines = appendList(lines, "Formatting:", c.Formatting)
	return strings.Join(lines, "\n")
}

func appendList(lines []string, header string, items []string) []string {
	if len(items) == 0 {
		return lines
	}
	lines = append(lines, header)
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return lines
}

func clean(c model.RulesContent) model.RulesContent {
	trimList := func(in []string) []string {
		var out []string
		for _, s := range in {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return model.RulesContent{
		Tone:        strings.TrimSpace(c.Tone),
		Style:       strings.TrimSpace(c.Style),
		Personality: strings.TrimSpace(c.Personality),
		Domain:      strings.TrimSpace(c.Domain),
		Constraints: trimList(c.Constraints),
		Formatting:  trimList(c.Formatting),
	}
}

// Source exposes the rules block as an essential fragment. It never fails: a repository
// error is logged and the default block is used.
type Source struct {
	provider *Provider
}

func NewSource(provider *Provider) *Source {
	return &Source{provider: provider}
}

func (s *Source) Name() string { return string(source.KindRules) }

func (s *Source) Fetch(ctx context.Context, req source.Request) (source.Result, error) {
	block, err := s.provider.Block(ctx, req.WorkspaceID)
	if err != nil {
		s.provider.logger.Warn("load rules failed, using default block",
			zap.String("workspace_id", req.WorkspaceID), zap.Error(err))
	}
	return source.Result{Fragments: []source.Fragment{{
		Kind:      source.KindRules,
		ID:        "rules:" + req.WorkspaceID,
		Text:      block.Text,
		Essential: true,
		Default:   block.Default,
	}}}, nil
}

var _ source.ContextSource = (*Source)(nil)
