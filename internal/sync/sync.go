// Package sync assembles the delta feeds agents poll: rule changes since
// a client-held version watermark, and the monitored-domain roster.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guardline/dlp-mon/internal/policy"
	"github.com/guardline/dlp-mon/pkg/types"
)

// RuleStore provides the rule rows and tombstones backing a delta sync.
type RuleStore interface {
	ListEnabledRulesSince(ctx context.Context, version int64) ([]types.Rule, error)
	ListTombstonesSince(ctx context.Context, version int64) ([]types.RuleTombstone, error)
}

// DomainStore provides the monitored platform roster.
type DomainStore interface {
	ListMonitoredDomains(ctx context.Context) ([]types.MonitoredDomain, error)
}

type Syncer struct {
	rules   RuleStore
	domains DomainStore
	logger  *slog.Logger
}

func NewSyncer(rules RuleStore, domains DomainStore, logger *slog.Logger) *Syncer {
	return &Syncer{
		rules:   rules,
		domains: domains,
		logger:  logger.With("component", "sync"),
	}
}

// SyncRules returns every enabled rule whose version exceeds sinceVersion
// and every tombstone written past it. A client holding the returned state
// and replaying the same watermark later always converges: upserts carry
// the full rule body and deletes are never dropped from the feed.
func (s *Syncer) SyncRules(ctx context.Context, sinceVersion int64) (*types.RuleSyncResponse, error) {
	rules, err := s.rules.ListEnabledRulesSince(ctx, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("listing changed rules: %w", err)
	}
	tombstones, err := s.rules.ListTombstonesSince(ctx, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("listing tombstones: %w", err)
	}

	resp := &types.RuleSyncResponse{
		Rules:      policy.ToAgentFormatAll(rules),
		DeletedIDs: make([]string, 0, len(tombstones)),
	}
	if resp.Rules == nil {
		resp.Rules = []types.AgentRule{}
	}
	for _, tombstone := range tombstones {
		resp.DeletedIDs = append(resp.DeletedIDs, tombstone.RuleID)
	}

	s.logger.Debug("rule sync served",
		"since_version", sinceVersion,
		"rules", len(resp.Rules),
		"deleted", len(resp.DeletedIDs),
	)
	return resp, nil
}

// SyncDomains returns the full monitored-domain roster. Domains are few
// enough that agents always take the complete list.
func (s *Syncer) SyncDomains(ctx context.Context) ([]types.MonitoredDomain, error) {
	domains, err := s.domains.ListMonitoredDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing monitored domains: %w", err)
	}
	if domains == nil {
		domains = []types.MonitoredDomain{}
	}
	return domains, nil
}
