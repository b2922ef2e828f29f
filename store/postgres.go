package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const customersSchema = `
CREATE TABLE IF NOT EXISTS customers (
	phone_number      TEXT PRIMARY KEY,
	business_name     TEXT NOT NULL,
	subscription_tier TEXT NOT NULL DEFAULT 'basic',
	tts_preference    TEXT NOT NULL DEFAULT 'polly',
	language          TEXT NOT NULL DEFAULT 'en-US',
	voice_id          TEXT,
	business_context  JSONB
)`

// NewPool opens a pgx pool and checks connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// PostgresCustomerStore keeps customer profiles in the customers table
type PostgresCustomerStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCustomerStore creates the store; call EnsureSchema before use
// on a fresh database.
func NewPostgresCustomerStore(pool *pgxpool.Pool) *PostgresCustomerStore {
	return &PostgresCustomerStore{pool: pool}
}

// EnsureSchema creates the customers table when missing.
func (s *PostgresCustomerStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, customersSchema); err != nil {
		return fmt.Errorf("create customers table: %w", err)
	}
	return nil
}

func (s *PostgresCustomerStore) Get(ctx context.Context, phoneNumber string) (*CustomerProfile, error) {
	query := `
		SELECT phone_number, business_name, subscription_tier, tts_preference,
		       language, voice_id, business_context
		FROM customers
		WHERE phone_number = $1
	`
	var (
		p        CustomerProfile
		tier     string
		vendor   string
		business []byte
	)
	err := s.pool.QueryRow(ctx, query, phoneNumber).Scan(
		&p.PhoneNumber,
		&p.BusinessName,
		&tier,
		&vendor,
		&p.Language,
		&p.VoiceID,
		&business,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select customer: %w", err)
	}
	p.SubscriptionTier = Tier(tier)
	p.TTSPreference = Vendor(vendor)

	if len(business) > 0 {
		var bc BusinessContext
		if err := json.Unmarshal(business, &bc); err != nil {
			return nil, fmt.Errorf("decode business context: %w", err)
		}
		p.BusinessContext = &bc
	}
	return &p, nil
}

func (s *PostgresCustomerStore) Save(ctx context.Context, profile *CustomerProfile) error {
	var business []byte
	if profile.BusinessContext != nil {
		var err error
		if business, err = json.Marshal(profile.BusinessContext); err != nil {
			return fmt.Errorf("encode business context: %w", err)
		}
	}

	query := `
		INSERT INTO customers (phone_number, business_name, subscription_tier,
		                       tts_preference, language, voice_id, business_context)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone_number) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			subscription_tier = EXCLUDED.subscription_tier,
			tts_preference = EXCLUDED.tts_preference,
			language = EXCLUDED.language,
			voice_id = EXCLUDED.voice_id,
			business_context = EXCLUDED.business_context
	`
	_, err := s.pool.Exec(ctx, query,
		profile.PhoneNumber,
		profile.BusinessName,
		string(profile.SubscriptionTier),
		string(profile.TTSPreference),
		profile.Language,
		profile.VoiceID,
		business,
	)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}
