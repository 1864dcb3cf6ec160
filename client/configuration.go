package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/mbocsi/cloudhw/proto"
)

// DownloadConfiguration fetches the controller name and device list for the
// configured location. On success both are replaced and
// OnConfigurationDownloaded runs; on failure the previous configuration is
// kept, OnError is told, and the error is returned.
func (c *Client) DownloadConfiguration(ctx context.Context) error {
	cfg := c.settings.snapshot()
	if cfg.LocationID == "" {
		return newError(KindConfiguration, "LocationId not set.", nil)
	}

	endpoint, err := configURL(cfg.ConfigEndpoints.Resolve(cfg.TestMode), cfg.ConfigPath, cfg.LocationID)
	if err != nil {
		return c.configDownloadFailed(err)
	}

	resp, err := c.fetchConfiguration(ctx, endpoint, cfg.APIKey)
	if err != nil {
		return c.configDownloadFailed(err)
	}

	devices := resp.Result.Devices
	slices.SortStableFunc(devices, func(a, b proto.Device) int {
		return strings.Compare(a.Name, b.Name)
	})
	c.settings.replaceConfiguration(resp.Result.ControllerName, devices)

	c.logger.Info("Configuration downloaded",
		"location", cfg.LocationID,
		"controller", resp.Result.ControllerName,
		"devices", len(devices),
	)
	if c.handlers.OnConfigurationDownloaded != nil {
		c.dispatcher.invoke("configuration", c.handlers.OnConfigurationDownloaded)
	}
	return nil
}

func (c *Client) fetchConfiguration(ctx context.Context, endpoint, apiKey string) (*proto.ConfigurationResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("ApiKey", apiKey)
	}

	c.logger.Debug("Requesting configuration", "url", endpoint)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("configuration service returned %s", res.Status)
	}

	var body proto.ConfigurationResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if !body.Success {
		return nil, errors.New("configuration service reported failure")
	}
	return &body, nil
}

func (c *Client) configDownloadFailed(cause error) error {
	c.logger.Warn("Configuration download failed", "error", cause)
	err := newError(KindConfigDownload, msgConfigDownloadFail, cause)
	c.reportError(err)
	return err
}
