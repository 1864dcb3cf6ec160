package client

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	ProductionHubURL = "https://cloud.chargeitpro.com"
	StagingHubURL    = "https://cloud-staging.chargeitpro.com"

	ProductionConfigURL = "https://cloud.chargeitpro.com"
	StagingConfigURL    = "https://cloud-staging.chargeitpro.com"

	DefaultConfigPath = "Config"
	LegacyConfigPath  = "RemoteConfig"
)

// Endpoints is a production/staging pair selected by test mode.
type Endpoints struct {
	Production string
	Staging    string
}

func DefaultHubEndpoints() Endpoints {
	return Endpoints{Production: ProductionHubURL, Staging: StagingHubURL}
}

func DefaultConfigEndpoints() Endpoints {
	return Endpoints{Production: ProductionConfigURL, Staging: StagingConfigURL}
}

func (e Endpoints) Resolve(testMode bool) string {
	if testMode {
		return e.Staging
	}
	return e.Production
}

func (e Endpoints) ResolveURL(testMode bool) (*url.URL, error) {
	raw := e.Resolve(testMode)
	if raw == "" {
		return nil, fmt.Errorf("no endpoint configured (test mode %t)", testMode)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	return u, nil
}

// configURL builds {base}/{path}/{locationId}.
func configURL(base, path, locationID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid configuration endpoint %q: %w", base, err)
	}
	return u.JoinPath(strings.Trim(path, "/"), locationID).String(), nil
}
