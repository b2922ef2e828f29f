package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCustomerStore(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=true to run.")
	}

	_ = godotenv.Load("../.env")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	customers := NewPostgresCustomerStore(pool)
	require.NoError(t, customers.EnsureSchema(ctx))

	const bare, full = "+15550000001", "+15550000002"
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM customers WHERE phone_number IN ($1, $2)", bare, full)
	})

	_, err = customers.Get(ctx, bare)
	assert.ErrorIs(t, err, ErrNotFound)

	// Nullable columns come back as nil, not as empty values.
	plain := &CustomerProfile{
		PhoneNumber:      bare,
		BusinessName:     "Corner Shop",
		SubscriptionTier: TierBasic,
		TTSPreference:    VendorPolly,
		Language:         "en-US",
	}
	require.NoError(t, customers.Save(ctx, plain))
	got, err := customers.Get(ctx, bare)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
	assert.Nil(t, got.VoiceID)
	assert.Nil(t, got.BusinessContext)

	voice := "Rachel"
	rich := &CustomerProfile{
		PhoneNumber:      full,
		BusinessName:     "Premium Spa",
		SubscriptionTier: TierPremium,
		TTSPreference:    VendorElevenLabs,
		Language:         "es-ES",
		VoiceID:          &voice,
		BusinessContext: &BusinessContext{
			Name:     "Premium Spa",
			Services: []string{"Massage", "Facial"},
			Address:  "1 Main St",
			Phone:    full,
		},
	}
	require.NoError(t, customers.Save(ctx, rich))
	got, err = customers.Get(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, rich, got)

	// Saving again updates in place and can clear the nullable columns.
	rich.VoiceID = nil
	rich.BusinessContext = nil
	rich.SubscriptionTier = TierEnterprise
	require.NoError(t, customers.Save(ctx, rich))
	got, err = customers.Get(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, TierEnterprise, got.SubscriptionTier)
	assert.Nil(t, got.VoiceID)
	assert.Nil(t, got.BusinessContext)
}
