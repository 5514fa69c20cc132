package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/types"
)

// SaveChannel upserts the last applied settings of one channel. Quantities
// the state leaves nil keep their stored value.
func (p *PostgresClient) SaveChannel(ctx context.Context, state types.ChannelState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO channel_settings (channel, frequency_mhz, phase_deg, gain, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel) DO UPDATE SET
			frequency_mhz = COALESCE(EXCLUDED.frequency_mhz, channel_settings.frequency_mhz),
			phase_deg     = COALESCE(EXCLUDED.phase_deg, channel_settings.phase_deg),
			gain          = COALESCE(EXCLUDED.gain, channel_settings.gain),
			updated_at    = EXCLUDED.updated_at
	`, state.Channel, state.FrequencyMHz, state.PhaseDeg, state.Gain, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save channel %s: %w", state.Channel, err)
	}
	return nil
}

// LoadChannels returns every stored channel ordered by name.
func (p *PostgresClient) LoadChannels(ctx context.Context) ([]types.ChannelState, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT channel, frequency_mhz, phase_deg, gain, updated_at
		FROM channel_settings
		ORDER BY channel
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var states []types.ChannelState
	for rows.Next() {
		var s types.ChannelState
		if err := rows.Scan(&s.Channel, &s.FrequencyMHz, &s.PhaseDeg, &s.Gain, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
