package store

import (
	"context"
	"sync"
)

// Tier is a customer subscription level
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Vendor names a text-to-speech provider
type Vendor string

const (
	VendorPolly      Vendor = "polly"
	VendorElevenLabs Vendor = "elevenlabs"
	VendorGoogle     Vendor = "google"
)

// BusinessContext describes the business a number belongs to; it is fed to
// the greeting and the language model prompt.
type BusinessContext struct {
	Name     string   `json:"name"`
	Services []string `json:"services"`
	Address  string   `json:"address"`
	Phone    string   `json:"phone"`
}

// CustomerProfile is a subscribed business keyed by phone number
type CustomerProfile struct {
	PhoneNumber      string           `json:"phone_number"`
	BusinessName     string           `json:"business_name"`
	SubscriptionTier Tier             `json:"subscription_tier"`
	TTSPreference    Vendor           `json:"tts_preference"`
	Language         string           `json:"language"`
	VoiceID          *string          `json:"voice_id"`
	BusinessContext  *BusinessContext `json:"business_context"`
}

// CustomerStore loads and persists customer profiles
type CustomerStore interface {
	Get(ctx context.Context, phoneNumber string) (*CustomerProfile, error)
	Save(ctx context.Context, profile *CustomerProfile) error
}

// DemoCustomers returns the profiles seeded into a fresh in-memory store.
func DemoCustomers() []CustomerProfile {
	rachel := "21m00Tcm4TlvDq8ikWAM"
	return []CustomerProfile{
		{
			PhoneNumber:      "+1234567890",
			BusinessName:     "Demo Salon",
			SubscriptionTier: TierBasic,
			TTSPreference:    VendorPolly,
			Language:         "en-US",
			BusinessContext: &BusinessContext{
				Name:     "Beautiful Hair Salon",
				Services: []string{"Haircut", "Color", "Styling", "Manicure"},
				Address:  "123 Main St, Your City",
				Phone:    "+1234567890",
			},
		},
		{
			PhoneNumber:      "+0987654321",
			BusinessName:     "Premium Spa",
			SubscriptionTier: TierPremium,
			TTSPreference:    VendorElevenLabs,
			Language:         "en-US",
			VoiceID:          &rachel,
			BusinessContext: &BusinessContext{
				Name:     "Luxury Day Spa",
				Services: []string{"Massage", "Facial", "Body Wrap", "Manicure", "Pedicure"},
				Address:  "456 Spa Avenue, Your City",
				Phone:    "+0987654321",
			},
		},
	}
}

// MemoryCustomerStore keeps customer profiles in process memory
type MemoryCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]CustomerProfile
}

// NewMemoryCustomerStore creates a store holding the given profiles
func NewMemoryCustomerStore(profiles ...CustomerProfile) *MemoryCustomerStore {
	s := &MemoryCustomerStore{customers: make(map[string]CustomerProfile)}
	for _, p := range profiles {
		s.customers[p.PhoneNumber] = p
	}
	return s
}

func (s *MemoryCustomerStore) Get(_ context.Context, phoneNumber string) (*CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.customers[phoneNumber]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryCustomerStore) Save(_ context.Context, profile *CustomerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers[profile.PhoneNumber] = *profile
	return nil
}
