package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/store"
)

const defaultLanguage = "en-US"

// VoiceSettings is what the call flow needs to speak to a customer's callers
type VoiceSettings struct {
	Service  store.Vendor `json:"service"`
	VoiceID  *string      `json:"voice_id"`
	Language string       `json:"language"`
}

// Preferences is a partial update of a customer's voice settings. Nil
// fields are left unchanged.
type Preferences struct {
	TTSPreference *store.Vendor `json:"tts_preference,omitempty" validate:"omitempty,oneof=polly elevenlabs google"`
	VoiceID       *string       `json:"voice_id,omitempty" validate:"omitempty,min=1,max=64"`
	Language      *string       `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// CustomerVoices is the voice catalogue a customer may pick from
type CustomerVoices struct {
	Service          store.Vendor       `json:"service"`
	SubscriptionTier store.Tier         `json:"subscription_tier"`
	Voices           map[string][]Voice `json:"voices"`
}

// CustomerService applies subscription tier rules to customer profiles
type CustomerService struct {
	customers store.CustomerStore
	log       *logger.Logger
}

// NewCustomerService creates a new customer service
func NewCustomerService(customers store.CustomerStore) *CustomerService {
	return &CustomerService{
		customers: customers,
		log:       logger.Component("customers"),
	}
}

// Profile returns the customer for a phone number, or ErrNotFound
func (c *CustomerService) Profile(ctx context.Context, phoneNumber string) (*store.CustomerProfile, error) {
	p, err := c.customers.Get(ctx, phoneNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "customer %s", phoneNumber)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading customer %s", phoneNumber)
	}
	return p, nil
}

// lookup is Profile with "unknown" folded into a nil profile.
func (c *CustomerService) lookup(ctx context.Context, phoneNumber string) (*store.CustomerProfile, error) {
	p, err := c.Profile(ctx, phoneNumber)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// TTSServiceFor determines which TTS vendor a customer's calls use
func (c *CustomerService) TTSServiceFor(ctx context.Context, phoneNumber string) (store.Vendor, error) {
	p, err := c.lookup(ctx, phoneNumber)
	if err != nil {
		return "", err
	}
	return ttsVendorFor(p), nil
}

func ttsVendorFor(p *store.CustomerProfile) store.Vendor {
	if p == nil {
		return store.VendorPolly
	}
	switch p.SubscriptionTier {
	case store.TierEnterprise:
		return p.TTSPreference
	case store.TierPremium:
		if p.TTSPreference == store.VendorElevenLabs {
			return store.VendorElevenLabs
		}
		return store.VendorPolly
	default:
		// Basic customers always get Polly
		return store.VendorPolly
	}
}

// VoiceSettings returns the vendor, voice and language for a customer.
// Unknown numbers get Polly in en-US.
func (c *CustomerService) VoiceSettings(ctx context.Context, phoneNumber string) (VoiceSettings, error) {
	p, err := c.lookup(ctx, phoneNumber)
	if err != nil {
		return VoiceSettings{}, err
	}
	if p == nil {
		return VoiceSettings{Service: store.VendorPolly, Language: defaultLanguage}, nil
	}

	language := p.Language
	if language == "" {
		language = defaultLanguage
	}
	return VoiceSettings{Service: ttsVendorFor(p), VoiceID: p.VoiceID, Language: language}, nil
}

// BusinessContext returns the business block for the prompt and greeting;
// nil for unknown numbers.
func (c *CustomerService) BusinessContext(ctx context.Context, phoneNumber string) (*store.BusinessContext, error) {
	p, err := c.lookup(ctx, phoneNumber)
	if err != nil || p == nil {
		return nil, err
	}
	return p.BusinessContext, nil
}

// CanUsePremiumTTS reports whether the customer's tier includes Eleven Labs
func (c *CustomerService) CanUsePremiumTTS(ctx context.Context, phoneNumber string) (bool, error) {
	p, err := c.lookup(ctx, phoneNumber)
	if err != nil || p == nil {
		return false, err
	}
	return p.SubscriptionTier == store.TierPremium || p.SubscriptionTier == store.TierEnterprise, nil
}

// UpdatePreferences changes a customer's TTS preferences
func (c *CustomerService) UpdatePreferences(ctx context.Context, phoneNumber string, prefs Preferences) (*store.CustomerProfile, error) {
	p, err := c.Profile(ctx, phoneNumber)
	if err != nil {
		c.log.Warn("Customer not found: %s", phoneNumber)
		return nil, err
	}

	if prefs.TTSPreference != nil && *prefs.TTSPreference != "" {
		switch *prefs.TTSPreference {
		case store.VendorPolly, store.VendorElevenLabs, store.VendorGoogle:
			p.TTSPreference = *prefs.TTSPreference
		default:
			return nil, errors.Wrapf(ErrInvalidArgument, "unknown tts_preference %q", *prefs.TTSPreference)
		}
	}
	if prefs.VoiceID != nil && *prefs.VoiceID != "" {
		voice := *prefs.VoiceID
		p.VoiceID = &voice
	}
	if prefs.Language != nil && *prefs.Language != "" {
		p.Language = *prefs.Language
	}

	if err := c.customers.Save(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "saving customer %s", phoneNumber)
	}
	c.log.Info("Updated preferences for %s", phoneNumber)
	return p, nil
}

// AvailableVoicesFor lists the voices of the vendor a customer is entitled to
func (c *CustomerService) AvailableVoicesFor(ctx context.Context, phoneNumber string) (CustomerVoices, error) {
	p, err := c.lookup(ctx, phoneNumber)
	if err != nil {
		return CustomerVoices{}, err
	}

	tier := store.TierBasic
	if p != nil {
		tier = p.SubscriptionTier
	}
	vendor := ttsVendorFor(p)
	return CustomerVoices{
		Service:          vendor,
		SubscriptionTier: tier,
		Voices:           AvailableVoices(vendor),
	}, nil
}
