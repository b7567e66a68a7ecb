package push

import (
	"go.uber.org/zap"

	"vocalink-backend/pkg/env"
	"vocalink-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeNop  ProviderType = "nop"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider creates a push notification provider based on environment
// configuration. Unknown or unset providers fall back to the nop provider.
func NewProvider() (Provider, error) {
	providerType := ProviderType(env.GetString("PUSH_PROVIDER", "nop"))

	switch providerType {
	case ProviderTypeFCM:
		return NewFCMProvider(&FCMConfig{
			ProjectID:       env.GetString("FCM_PROJECT_ID", ""),
			CredentialsPath: env.GetString("FIREBASE_CREDENTIALS", ""),
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			BundleID:   env.GetString("APNS_BUNDLE_ID", ""),
			KeyPath:    env.GetString("APNS_KEY_PATH", ""),
			KeyID:      env.GetString("APNS_KEY_ID", ""),
			TeamID:     env.GetString("APNS_TEAM_ID", ""),
			Production: env.GetBool("APNS_PRODUCTION", false),
		})
	case ProviderTypeNop:
		return NopProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to nop",
			zap.String("provider_type", string(providerType)))
		return NopProvider{}, nil
	}
}
