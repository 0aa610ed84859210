package provider

import (
	"sync"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
	"unibox_server/pkg/logger"
)

// =============================================================================
// Provider Factory
// =============================================================================

// FactoryConfig holds all provider configurations.
type FactoryConfig struct {
	Gmail   *GmailConfig
	Outlook *OutlookConfig

	// MockMode routes every supported service name to the shared mock
	// adapter, regardless of which service was requested.
	MockMode bool
}

// Factory resolves service names to adapter instances. Instances are built
// once and cached, so repeated lookups for the same service return the same
// adapter (and the same circuit breaker state).
type Factory struct {
	cfg *FactoryConfig

	mu        sync.Mutex
	instances map[domain.Service]out.EmailProviderPort
}

// NewFactory creates a new provider factory.
func NewFactory(cfg *FactoryConfig) *Factory {
	if cfg.MockMode {
		logger.Warn("mock provider mode enabled; all services resolve to the mock adapter")
	}
	return &Factory{
		cfg:       cfg,
		instances: make(map[domain.Service]out.EmailProviderPort),
	}
}

// GetProvider returns the adapter for the given service, building it on
// first use. Unknown service names fail with unsupported_service; "mock" is
// only requestable while mock mode is on.
func (f *Factory) GetProvider(service domain.Service) (out.EmailProviderPort, error) {
	if !f.supported(service) {
		return nil, out.NewProviderError(string(service), out.ProviderErrUnsupported,
			"unsupported email service: "+string(service), nil, false)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if inst, ok := f.instances[service]; ok {
		return inst, nil
	}

	inst, err := f.build(service)
	if err != nil {
		return nil, err
	}
	f.instances[service] = inst
	return inst, nil
}

func (f *Factory) supported(service domain.Service) bool {
	if service.IsValid() {
		return true
	}
	return service == domain.ServiceMock && f.cfg.MockMode
}

func (f *Factory) build(service domain.Service) (out.EmailProviderPort, error) {
	if f.cfg.MockMode || service == domain.ServiceMock {
		// One shared mock so reads and mutations observe the same fixtures.
		return f.sharedMock(), nil
	}

	switch service {
	case domain.ServiceGmail:
		if f.cfg.Gmail == nil {
			return nil, out.NewProviderError("gmail", out.ProviderErrUnsupported, "gmail credentials not configured", nil, false)
		}
		return NewGmailAdapter(f.cfg.Gmail), nil
	case domain.ServiceOutlook:
		if f.cfg.Outlook == nil {
			return nil, out.NewProviderError("outlook", out.ProviderErrUnsupported, "outlook credentials not configured", nil, false)
		}
		return NewOutlookAdapter(f.cfg.Outlook), nil
	default:
		return nil, out.NewProviderError(string(service), out.ProviderErrUnsupported,
			"unsupported email service: "+string(service), nil, false)
	}
}

// sharedMock returns the single mock instance, creating it on first use. In
// mock mode gmail, outlook and mock all map to this one entry.
func (f *Factory) sharedMock() out.EmailProviderPort {
	if inst, ok := f.instances[domain.ServiceMock]; ok {
		return inst
	}
	inst := NewMockAdapter()
	f.instances[domain.ServiceMock] = inst
	return inst
}

var _ out.ProviderFactoryPort = (*Factory)(nil)
