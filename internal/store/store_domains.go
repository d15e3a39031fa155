package store

import (
	"context"

	"github.com/guardline/dlp-mon/pkg/types"
)

// =============================================================================
// MONITORED DOMAINS
// =============================================================================

// ListMonitoredDomains returns the full domain watch list agents pull
// during domain sync.
func (s *Store) ListMonitoredDomains(ctx context.Context) ([]types.MonitoredDomain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT domain, platform_name, is_blocked
		FROM monitored_domains
		ORDER BY domain ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []types.MonitoredDomain
	for rows.Next() {
		var d types.MonitoredDomain
		if err := rows.Scan(&d.Domain, &d.PlatformName, &d.IsBlocked); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// UpsertMonitoredDomain adds or updates a watched domain.
func (s *Store) UpsertMonitoredDomain(ctx context.Context, d *types.MonitoredDomain) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitored_domains (domain, platform_name, is_blocked)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain) DO UPDATE
		SET platform_name = EXCLUDED.platform_name, is_blocked = EXCLUDED.is_blocked
	`, d.Domain, d.PlatformName, d.IsBlocked)
	return err
}
