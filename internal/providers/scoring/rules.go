package scoring

import (
	"context"
	"strings"
	"time"

	"github.com/yoockh/callguard/internal/cache"
	"github.com/yoockh/callguard/internal/models"
)

type RuleSource interface {
	ListActive(ctx context.Context) ([]models.RiskRule, error)
}

// RuleMatcher matches text against the active risk_rules keywords. The rule
// set is cached in Redis so every worker process sees edits within ttl.
type RuleMatcher struct {
	source RuleSource
	cache  cache.Cache
	ttl    time.Duration
}

func NewRuleMatcher(source RuleSource, c cache.Cache, ttl time.Duration) *RuleMatcher {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RuleMatcher{source: source, cache: c, ttl: ttl}
}

func (m *RuleMatcher) rules(ctx context.Context) ([]models.RiskRule, error) {
	var rules []models.RiskRule
	if m.cache != nil {
		if hit, err := m.cache.GetJSON(ctx, cache.RiskRulesKey, &rules); err == nil && hit {
			return rules, nil
		}
	}

	rules, err := m.source.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		_ = m.cache.SetJSON(ctx, cache.RiskRulesKey, rules, m.ttl)
	}
	return rules, nil
}

// Match returns the most severe rule whose keyword occurs in text, plus every
// keyword that matched. A nil rule means no match.
func (m *RuleMatcher) Match(ctx context.Context, text string) (*models.RiskRule, []string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, nil
	}

	rules, err := m.rules(ctx)
	if err != nil {
		return nil, nil, err
	}

	lower := strings.ToLower(text)
	var best *models.RiskRule
	var hits []string
	for i := range rules {
		r := &rules[i]
		if !r.IsActive || r.Keyword == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(r.Keyword)) {
			continue
		}
		hits = append(hits, r.Keyword)
		if best == nil || models.RiskLevel(r.RiskLevel).Rank() > models.RiskLevel(best.RiskLevel).Rank() {
			best = r
		}
	}
	return best, hits, nil
}

// ruleVerdict is what a keyword hit turns into.
func ruleVerdict(job models.InferenceJob, rule *models.RiskRule, hits []string) models.RawVerdict {
	v := models.RawVerdict{
		CallID:       job.CallID,
		Modality:     job.Modality,
		IsPositive:   true,
		Confidence:   1,
		RiskLevel:    models.RiskLevel(rule.RiskLevel),
		ModelVersion: "risk_rules",
		Rule:         rule,
		Keywords:     hits,
		Details:      "Matched keyword: " + rule.Keyword,
		ScoredAt:     time.Now().UTC(),
	}
	if !v.RiskLevel.Valid() {
		v.RiskLevel = models.RiskMedium
	}
	return v
}
