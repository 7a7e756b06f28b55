package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/repository"
	"mchango-payments/pkg/security"
)

// Callback routes Daraja is told to call back on when a configuration row
// carries no explicit URL.
const (
	STKCallbackPath = "/api/v1/callbacks/mpesa/stk"
	B2CResultPath   = "/api/v1/callbacks/mpesa/b2c/result"
	B2CTimeoutPath  = "/api/v1/callbacks/mpesa/b2c/timeout"
)

// ConfigResolver turns payment_channel_configs rows into ready-to-use
// channel configurations. It never touches the network.
type ConfigResolver struct {
	repo            repository.ChannelConfigRepository
	encrypter       *security.Encrypter
	callbackBaseURL string
	logger          *zap.Logger
}

// NewConfigResolver builds a resolver. encrypter may be nil, in which case
// B2C rows must carry a ready security_credential.
func NewConfigResolver(
	repo repository.ChannelConfigRepository,
	encrypter *security.Encrypter,
	callbackBaseURL string,
	logger *zap.Logger,
) *ConfigResolver {
	return &ConfigResolver{
		repo:            repo,
		encrypter:       encrypter,
		callbackBaseURL: callbackBaseURL,
		logger:          logger,
	}
}

// ResolvePush returns the push configuration for a till or paybill channel.
func (r *ConfigResolver) ResolvePush(ctx context.Context, channel domain.Channel) (domain.PushConfig, error) {
	if channel != domain.ChannelTill && channel != domain.ChannelPaybill {
		return domain.PushConfig{}, domain.ErrInvalidChannel
	}
	provider := channel.Provider()

	rec, err := r.single(ctx, provider)
	if err != nil {
		return domain.PushConfig{}, err
	}

	cfg, err := domain.DecodePushSettings(channel, rec.Settings)
	if err != nil {
		r.logger.Warn("channel configuration rejected",
			zap.String("provider", string(provider)),
			zap.String("config_id", rec.ID),
			zap.Error(err))
		return domain.PushConfig{}, err
	}

	if cfg.CallbackURL == "" {
		cfg.CallbackURL = r.defaultURL(STKCallbackPath)
	}
	if cfg.CallbackURL == "" {
		return domain.PushConfig{}, &domain.ConfigError{Kind: domain.ChannelIncomplete, Provider: provider, Detail: "missing callback_url"}
	}
	return cfg, nil
}

// ResolveB2C returns the outbound payment configuration. A row without a
// security_credential has one generated from initiator_password.
func (r *ConfigResolver) ResolveB2C(ctx context.Context) (domain.B2CConfig, error) {
	rec, err := r.single(ctx, domain.ProviderMpesaB2C)
	if err != nil {
		return domain.B2CConfig{}, err
	}

	s, err := domain.DecodeB2CSettings(rec.Settings)
	if err != nil {
		r.logger.Warn("b2c configuration rejected", zap.String("config_id", rec.ID), zap.Error(err))
		return domain.B2CConfig{}, err
	}

	credential := s.SecurityCredential
	if credential == "" {
		credential, err = r.encrypter.SecurityCredential(s.InitiatorPassword)
		if err != nil {
			return domain.B2CConfig{}, &domain.ConfigError{
				Kind:     domain.ChannelIncomplete,
				Provider: domain.ProviderMpesaB2C,
				Detail:   "security credential: " + err.Error(),
			}
		}
	}

	cfg := domain.B2CConfig{
		Credentials:        domain.Credentials{ConsumerKey: s.ConsumerKey, ConsumerSecret: s.ConsumerSecret, Sandbox: bool(s.Sandbox)},
		InitiatorName:      s.InitiatorName,
		SecurityCredential: credential,
		ShortCode:          string(s.ShortCode),
		ResultURL:          s.ResultURL,
		TimeoutURL:         s.TimeoutURL,
	}
	if cfg.ResultURL == "" {
		cfg.ResultURL = r.defaultURL(B2CResultPath)
	}
	if cfg.TimeoutURL == "" {
		cfg.TimeoutURL = r.defaultURL(B2CTimeoutPath)
	}
	if cfg.ResultURL == "" || cfg.TimeoutURL == "" {
		return domain.B2CConfig{}, &domain.ConfigError{Kind: domain.ChannelIncomplete, Provider: domain.ProviderMpesaB2C, Detail: "missing result_url or timeout_url"}
	}
	return cfg, nil
}

// single loads the one enabled row for provider.
func (r *ConfigResolver) single(ctx context.Context, provider domain.Provider) (domain.ChannelConfigRecord, error) {
	records, err := r.repo.ListEnabled(ctx, provider)
	if err != nil {
		return domain.ChannelConfigRecord{}, fmt.Errorf("load %s configuration: %w", provider, err)
	}
	switch len(records) {
	case 0:
		return domain.ChannelConfigRecord{}, &domain.ConfigError{Kind: domain.ChannelNotConfigured, Provider: provider}
	case 1:
		return records[0], nil
	default:
		return domain.ChannelConfigRecord{}, &domain.ConfigError{
			Kind:     domain.ChannelAmbiguous,
			Provider: provider,
			Detail:   fmt.Sprintf("%d enabled rows", len(records)),
		}
	}
}

func (r *ConfigResolver) defaultURL(path string) string {
	if r.callbackBaseURL == "" {
		return ""
	}
	return r.callbackBaseURL + path
}
