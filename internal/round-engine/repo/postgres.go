package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// ReadRepo lê rodadas, mercados e snapshots de contagem do Postgres
type ReadRepo struct {
	DB *sql.DB
}

// CandidateRounds devolve as rodadas que ainda podem ser selecionadas para a
// câmera: não resolvidas e com ends_at dentro da janela de tolerância.
// Ordenadas por opens_at; mercados vêm junto.
func (r *ReadRepo) CandidateRounds(ctx context.Context, cameraID string, now time.Time, grace time.Duration) ([]domain.Round, error) {
	const q = `
		SELECT id, status, market_type, params, opens_at, closes_at, ends_at, camera_id
		FROM rounds
		WHERE camera_id = $1
		  AND status IN ('upcoming', 'open', 'locked')
		  AND ends_at > $2
		ORDER BY opens_at ASC, id ASC;
	`
	rows, err := r.DB.QueryContext(ctx, q, cameraID, now.Add(-grace))
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []domain.Round
	index := make(map[string]int)
	for rows.Next() {
		var (
			rd     domain.Round
			params []byte
			status string
			mtype  string
		)
		if err := rows.Scan(&rd.ID, &status, &mtype, &params, &rd.OpensAt, &rd.ClosesAt, &rd.EndsAt, &rd.CameraID); err != nil {
			return nil, err
		}
		rd.Status = domain.RoundStatus(status)
		rd.MarketType = domain.MarketType(mtype)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rd.Params); err != nil {
				return nil, fmt.Errorf("round %s params: %w", rd.ID, err)
			}
		}
		index[rd.ID] = len(out)
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	for _, rd := range out {
		ids = append(ids, rd.ID)
	}
	markets, err := r.marketsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range markets {
		if i, ok := index[m.RoundID]; ok {
			out[i].Markets = append(out[i].Markets, m)
		}
	}
	return out, nil
}

func (r *ReadRepo) marketsFor(ctx context.Context, roundIDs []string) ([]domain.Market, error) {
	const q = `
		SELECT id, round_id, outcome_key, odds, total_staked
		FROM markets
		WHERE round_id = ANY($1)
		ORDER BY round_id, outcome_key;
	`
	rows, err := r.DB.QueryContext(ctx, q, stringArray(roundIDs))
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var m domain.Market
		if err := rows.Scan(&m.ID, &m.RoundID, &m.OutcomeKey, &m.Odds, &m.TotalStaked); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestSnapshotAtOrBefore retorna o snapshot mais recente em ou antes de at.
// Sem snapshot retorna (nil, nil).
func (r *ReadRepo) LatestSnapshotAtOrBefore(ctx context.Context, cameraID string, at time.Time) (*domain.CountSnapshot, error) {
	const q = `
		SELECT camera_id, captured_at, total, vehicle_breakdown
		FROM count_snapshots
		WHERE camera_id = $1 AND captured_at <= $2
		ORDER BY captured_at DESC
		LIMIT 1;
	`
	var (
		s         domain.CountSnapshot
		breakdown []byte
	)
	err := r.DB.QueryRowContext(ctx, q, cameraID, at).Scan(&s.CameraID, &s.CapturedAt, &s.Total, &breakdown)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &s.VehicleBreakdown); err != nil {
			return nil, fmt.Errorf("snapshot breakdown: %w", err)
		}
	}
	return &s, nil
}
