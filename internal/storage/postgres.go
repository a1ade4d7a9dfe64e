package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/model"
)

//go:embed schema.sql
var schema string

const queryTimeout = 5 * time.Second

type Store struct {
	pool    *pgxpool.Pool
	channel string
	dsn     string
}

var (
	_ Inventory = (*Store)(nil)
	_ Overrides = (*Store)(nil)
	_ Results   = (*Store)(nil)
)

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{
		pool:    pool,
		channel: cfg.Listener.Channel,
		dsn:     fmt.Sprintf("postgres://***:***@%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.DBName),
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const audienceColumns = `owner, buyer, name, creation_time, activation_time, expiration_time,
	last_updated_time, bidding_logic_uri, trusted_bidding_data, ads, user_bidding_signals`

func scanAudiences(rows pgx.Rows) ([]model.CustomAudience, error) {
	defer rows.Close()
	var out []model.CustomAudience
	for rows.Next() {
		var ca model.CustomAudience
		if err := rows.Scan(&ca.Owner, &ca.Buyer, &ca.Name, &ca.CreationTime, &ca.ActivationTime,
			&ca.ExpirationTime, &ca.LastUpdatedTime, &ca.BiddingLogicURI, &ca.TrustedBiddingData,
			&ca.Ads, &ca.UserBiddingSignals); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, ca)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// LoadAll loads every stored audience.
func (s *Store) LoadAll(ctx context.Context) ([]model.CustomAudience, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+audienceColumns+` FROM custom_audiences ORDER BY buyer, owner, name`)
	if err != nil {
		return nil, fmt.Errorf("query custom audiences: %w", err)
	}
	return scanAudiences(rows)
}

func (s *Store) FetchEligible(ctx context.Context, buyers []string, now time.Time, maxAge time.Duration) ([]model.CustomAudience, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+audienceColumns+`
		FROM custom_audiences
		WHERE buyer = ANY($1)
		  AND activation_time <= $2
		  AND expiration_time > $2
		  AND last_updated_time >= $3
		ORDER BY buyer, owner, name
	`, buyers, now, now.Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("query eligible custom audiences: %w", err)
	}
	cas, err := scanAudiences(rows)
	if err != nil {
		return nil, err
	}
	return eligible(cas, buyers, now, maxAge), nil
}

// Upsert writes ca and notifies listeners on the configured channel in the same transaction.
func (s *Store) Upsert(ctx context.Context, ca model.CustomAudience, dailyUpdateURI string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO custom_audiences (`+audienceColumns+`, daily_update_uri)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (owner, buyer, name) DO UPDATE SET
			activation_time = EXCLUDED.activation_time,
			expiration_time = EXCLUDED.expiration_time,
			last_updated_time = EXCLUDED.last_updated_time,
			bidding_logic_uri = EXCLUDED.bidding_logic_uri,
			trusted_bidding_data = EXCLUDED.trusted_bidding_data,
			ads = EXCLUDED.ads,
			user_bidding_signals = EXCLUDED.user_bidding_signals,
			daily_update_uri = EXCLUDED.daily_update_uri
	`, ca.Owner, ca.Buyer, ca.Name, ca.CreationTime, ca.ActivationTime, ca.ExpirationTime,
		ca.LastUpdatedTime, ca.BiddingLogicURI, ca.TrustedBiddingData, ca.Ads, ca.UserBiddingSignals,
		dailyUpdateURI); err != nil {
		return fmt.Errorf("upsert custom audience: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.ListenChannel(), ca.Buyer); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Override(ctx context.Context, key model.Key) (model.Override, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	o := model.Override{Owner: key.Owner, Buyer: key.Buyer, Name: key.Name}
	err := s.pool.QueryRow(ctx, `
		SELECT bidding_logic_js, trusted_bidding_signals
		FROM custom_audience_overrides
		WHERE owner = $1 AND buyer = $2 AND name = $3
	`, key.Owner, key.Buyer, key.Name).Scan(&o.BiddingLogicJS, &o.TrustedBiddingSignals)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Override{}, false, nil
	}
	if err != nil {
		return model.Override{}, false, fmt.Errorf("query override: %w", err)
	}
	return o, true, nil
}

func (s *Store) PutOverride(ctx context.Context, o model.Override) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO custom_audience_overrides (owner, buyer, name, bidding_logic_js, trusted_bidding_signals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, buyer, name) DO UPDATE SET
			bidding_logic_js = EXCLUDED.bidding_logic_js,
			trusted_bidding_signals = EXCLUDED.trusted_bidding_signals
	`, o.Owner, o.Buyer, o.Name, o.BiddingLogicJS, o.TrustedBiddingSignals)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ad_selections WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("query ad selection id: %w", err)
	}
	return exists, nil
}

func (s *Store) Persist(ctx context.Context, r model.AuctionResult) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ad_selections (id, winning_render_uri, winning_bid, custom_audience, contextual_signals,
			buyer_decision_logic_js, bidding_logic_uri, caller_package_name, creation_timestamp, ad_counter_keys)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.WinningRenderURI, r.WinningBid, r.CustomAudience, r.ContextualSignals,
		r.BuyerDecisionLogicJS, r.BiddingLogicURI, r.CallerPackageName, r.CreatedAt, r.AdCounterKeys)
	if err != nil {
		return fmt.Errorf("insert ad selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

const resultColumns = `id, winning_render_uri, winning_bid, custom_audience, contextual_signals,
	buyer_decision_logic_js, bidding_logic_uri, caller_package_name, creation_timestamp, ad_counter_keys`

func scanResult(row pgx.Row) (model.AuctionResult, error) {
	var r model.AuctionResult
	err := row.Scan(&r.ID, &r.WinningRenderURI, &r.WinningBid, &r.CustomAudience, &r.ContextualSignals,
		&r.BuyerDecisionLogicJS, &r.BiddingLogicURI, &r.CallerPackageName, &r.CreatedAt, &r.AdCounterKeys)
	return r, err
}

func (s *Store) Get(ctx context.Context, id int64) (model.AuctionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	r, err := scanResult(s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM ad_selections WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AuctionResult{}, ErrNotFound
	}
	if err != nil {
		return model.AuctionResult{}, fmt.Errorf("query ad selection: %w", err)
	}
	return r, nil
}

func (s *Store) GetMany(ctx context.Context, ids []int64) ([]model.AuctionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM ad_selections WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query ad selections: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]model.AuctionResult, len(ids))
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		byID[r.ID] = r
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	out := make([]model.AuctionResult, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "ca_data_change"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

func (s *Store) DSNRedacted() string {
	return s.dsn
}
