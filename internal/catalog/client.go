package catalog

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

// Config configures an HTTPClient.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RateLimitPerSec == 0 {
		c.RateLimitPerSec = 10
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 20
	}
	return c
}

// HTTPClient is the concrete Client implementation, a pooled HTTP client
// fronted by a per-process rate limiter so a runaway workflow cannot
// overwhelm the upstream Catalog service.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	retry   *xoloerr.RetryPolicy
}

// NewHTTPClient builds an HTTPClient from cfg.
func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:          50,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       30 * time.Second,
				ForceAttemptHTTP2:     true,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		logger:  logger,
		retry:   xoloerr.DefaultRetryPolicy(),
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("catalog rate limiter: %w", err)
	}

	return xoloerr.WithRetry(ctx, c.retry, func() error {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return xoloerr.InvalidDataf("marshal catalog request body: %v", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build catalog request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return unavailablef("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return classifyStatus(resp.StatusCode, string(data))
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode catalog response for %s %s: %w", method, path, err)
			}
		}
		return nil
	})
}

func (c *HTTPClient) TitleExists(ctx context.Context, slug string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/titles/"+slug, nil, nil)
	if err == nil {
		return true, nil
	}
	if xoloerr.Is(err, xoloerr.NotFound) {
		return false, nil
	}
	return false, err
}

func (c *HTTPClient) CreateTitle(ctx context.Context, spec TitleSpec) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/titles", spec, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) UpdateTitle(ctx context.Context, slug string, patch TitlePatch) error {
	return c.do(ctx, http.MethodPut, "/titles/"+slug, patch, nil)
}

func (c *HTTPClient) DeleteTitle(ctx context.Context, slug string) error {
	return c.do(ctx, http.MethodDelete, "/titles/"+slug, nil, nil)
}

// requirementPayload is the wire shape for SetRequirement/SetPatchComponent,
// switching on xolo.RequirementKind.
type requirementPayload struct {
	Kind        xolo.RequirementKind `json:"kind"`
	AppName     string               `json:"app_name,omitempty"`
	AppBundleID string               `json:"app_bundle_id,omitempty"`
	Script      string               `json:"script,omitempty"`
}

func toRequirementPayload(req xolo.Requirement) requirementPayload {
	return requirementPayload{
		Kind:        req.Kind,
		AppName:     req.AppName,
		AppBundleID: req.AppBundleID,
		Script:      req.Script,
	}
}

func (c *HTTPClient) SetRequirement(ctx context.Context, slug string, req xolo.Requirement) error {
	return c.do(ctx, http.MethodPut, "/titles/"+slug+"/requirement", toRequirementPayload(req), nil)
}

func (c *HTTPClient) CreatePatch(ctx context.Context, slug string, attrs PatchAttrs) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/titles/"+slug+"/patches", attrs, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) UpdatePatch(ctx context.Context, slug, version string, attrs PatchAttrs) error {
	return c.do(ctx, http.MethodPut, "/titles/"+slug+"/patches/"+version, attrs, nil)
}

func (c *HTTPClient) EnablePatch(ctx context.Context, slug, version string) error {
	return c.do(ctx, http.MethodPost, "/titles/"+slug+"/patches/"+version+"/enable", nil, nil)
}

func (c *HTTPClient) DeletePatch(ctx context.Context, slug, version string) error {
	return c.do(ctx, http.MethodDelete, "/titles/"+slug+"/patches/"+version, nil, nil)
}

func (c *HTTPClient) SetPatchComponent(ctx context.Context, slug, version string, req xolo.Requirement) error {
	return c.do(ctx, http.MethodPut, "/titles/"+slug+"/patches/"+version+"/component", toRequirementPayload(req), nil)
}

func (c *HTTPClient) SetPatchCapabilities(ctx context.Context, slug, version, minOS, maxOS string) error {
	payload := struct {
		MinOS string `json:"min_os"`
		MaxOS string `json:"max_os,omitempty"`
	}{MinOS: minOS, MaxOS: maxOS}
	return c.do(ctx, http.MethodPut, "/titles/"+slug+"/patches/"+version+"/capabilities", payload, nil)
}

func (c *HTTPClient) SetPatchKillApps(ctx context.Context, slug, version string, killApps []xolo.KillApp) error {
	payload := struct {
		KillApps []xolo.KillApp `json:"killapps"`
	}{KillApps: killApps}
	return c.do(ctx, http.MethodPut, "/titles/"+slug+"/patches/"+version+"/killapps", payload, nil)
}

func (c *HTTPClient) PatchVisibility(ctx context.Context, slug, version string) (Visibility, error) {
	var out Visibility
	if err := c.do(ctx, http.MethodGet, "/titles/"+slug+"/patches/"+version+"/visibility", nil, &out); err != nil {
		return Visibility{}, err
	}
	return out, nil
}
