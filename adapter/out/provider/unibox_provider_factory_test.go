package provider

import (
	"errors"
	"testing"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
)

func newTestFactory(mockMode bool) *Factory {
	return NewFactory(&FactoryConfig{
		Gmail:    &GmailConfig{ClientID: "gid", ClientSecret: "gs"},
		Outlook:  &OutlookConfig{ClientID: "oid", ClientSecret: "os"},
		MockMode: mockMode,
	})
}

func TestFactoryResolvesKnownServices(t *testing.T) {
	factory := newTestFactory(false)

	tests := []struct {
		service  domain.Service
		wantName string
	}{
		{domain.ServiceGmail, "gmail"},
		{domain.ServiceOutlook, "outlook"},
	}

	for _, tt := range tests {
		t.Run(string(tt.service), func(t *testing.T) {
			provider, err := factory.GetProvider(tt.service)
			if err != nil {
				t.Fatalf("GetProvider(%q) error = %v", tt.service, err)
			}
			if provider.ServiceName() != tt.wantName {
				t.Errorf("ServiceName() = %q, want %q", provider.ServiceName(), tt.wantName)
			}
		})
	}
}

func TestFactoryCachesInstances(t *testing.T) {
	factory := newTestFactory(false)

	first, err := factory.GetProvider(domain.ServiceGmail)
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	second, err := factory.GetProvider(domain.ServiceGmail)
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if first != second {
		t.Error("repeated lookups returned different instances, want the cached one")
	}
}

func TestFactoryUnsupportedService(t *testing.T) {
	factory := newTestFactory(false)

	for _, name := range []string{"yahoo", "", "GMAIL"} {
		t.Run("service "+name, func(t *testing.T) {
			_, err := factory.GetProvider(domain.Service(name))
			var provErr *out.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("GetProvider(%q) error = %v, want ProviderError", name, err)
			}
			if provErr.Code != out.ProviderErrUnsupported {
				t.Errorf("code = %q, want %q", provErr.Code, out.ProviderErrUnsupported)
			}
		})
	}
}

func TestFactoryMockRequiresMockMode(t *testing.T) {
	factory := newTestFactory(false)

	_, err := factory.GetProvider(domain.ServiceMock)
	var provErr *out.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("GetProvider(mock) error = %v, want ProviderError", err)
	}
	if provErr.Code != out.ProviderErrUnsupported {
		t.Errorf("code = %q, want %q", provErr.Code, out.ProviderErrUnsupported)
	}

	mockFactory := newTestFactory(true)
	provider, err := mockFactory.GetProvider(domain.ServiceMock)
	if err != nil {
		t.Fatalf("GetProvider(mock) with mock mode error = %v", err)
	}
	if provider.ServiceName() != "mock" {
		t.Errorf("ServiceName() = %q, want mock", provider.ServiceName())
	}
}

func TestFactoryMockModeSharesOneInstance(t *testing.T) {
	factory := newTestFactory(true)

	gmail, err := factory.GetProvider(domain.ServiceGmail)
	if err != nil {
		t.Fatalf("GetProvider(gmail) error = %v", err)
	}
	outlook, err := factory.GetProvider(domain.ServiceOutlook)
	if err != nil {
		t.Fatalf("GetProvider(outlook) error = %v", err)
	}

	if gmail.ServiceName() != "mock" || outlook.ServiceName() != "mock" {
		t.Fatalf("mock mode resolved (%q, %q), want mock for both",
			gmail.ServiceName(), outlook.ServiceName())
	}
	if gmail != outlook {
		t.Error("mock mode built separate instances, want one shared adapter")
	}
}

func TestFactoryMissingCredentials(t *testing.T) {
	factory := NewFactory(&FactoryConfig{})

	_, err := factory.GetProvider(domain.ServiceGmail)
	var provErr *out.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("GetProvider() error = %v, want ProviderError", err)
	}
	if provErr.Code != out.ProviderErrUnsupported {
		t.Errorf("code = %q, want %q", provErr.Code, out.ProviderErrUnsupported)
	}
}
