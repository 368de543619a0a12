package fleet

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/xolohq/xolo/internal/xoloerr"
)

// Config configures an HTTPClient.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int

	// UploadTool is the path to the external package-upload utility. Xolo
	// shells out to it
	// rather than implementing the distribution-point transfer protocol
	// itself's non-goals.
	UploadTool string
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
	if c.UploadTool == "" {
		c.UploadTool = "jamf-upload"
	}
	return c
}

// HTTPClient is the concrete Client implementation, mirroring
// internal/catalog.HTTPClient's pooled-transport + rate-limiter +
// retry-policy shape.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	retry   *xoloerr.RetryPolicy
	execCmd func(ctx context.Context, name string, args ...string) *exec.Cmd
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
		execCmd: exec.CommandContext,
	}
}

var _ Client = (*HTTPClient)(nil)

// Login posts credentials to Fleet's auth endpoint. Fleet itself owns
// credential storage and any LDAP delegation; Xolo never sees
// more than pass/fail plus the principal to authorize against group
// membership.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (Session, error) {
	payload := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: username, Password: password}
	var out Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", payload, &out); err != nil {
		return Session{}, err
	}
	if out.Principal == "" {
		out.Principal = username
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("fleet rate limiter: %w", err)
	}

	return xoloerr.WithRetry(ctx, c.retry, func() error {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return xoloerr.InvalidDataf("marshal fleet request body: %v", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build fleet request: %w", err)
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
				return fmt.Errorf("decode fleet response for %s %s: %w", method, path, err)
			}
		}
		return nil
	})
}

func (c *HTTPClient) EnsureCategory(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	payload := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := c.do(ctx, http.MethodPut, "/categories/ensure", payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) CreateGroup(ctx context.Context, name string, kind GroupKind, criteria map[string]interface{}) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	payload := struct {
		Name     string                 `json:"name"`
		Kind     GroupKind              `json:"kind"`
		Criteria map[string]interface{} `json:"criteria,omitempty"`
	}{Name: name, Kind: kind, Criteria: criteria}
	if err := c.do(ctx, http.MethodPost, "/groups", payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) UpdateGroupCriteria(ctx context.Context, groupID string, criteria map[string]interface{}) error {
	return c.do(ctx, http.MethodPut, "/groups/"+groupID+"/criteria", criteria, nil)
}

func (c *HTTPClient) UpdateStaticGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	payload := struct {
		MemberIDs []string `json:"member_ids"`
	}{MemberIDs: memberIDs}
	return c.do(ctx, http.MethodPut, "/groups/"+groupID+"/members", payload, nil)
}

func (c *HTTPClient) DeleteGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+groupID, nil, nil)
}

func (c *HTTPClient) CreatePackage(ctx context.Context, spec PackageSpec) (Package, error) {
	var out Package
	if err := c.do(ctx, http.MethodPost, "/packages", spec, &out); err != nil {
		return Package{}, err
	}
	return out, nil
}

func (c *HTTPClient) UpdatePackage(ctx context.Context, packageID string, spec PackageSpec) error {
	return c.do(ctx, http.MethodPut, "/packages/"+packageID, spec, nil)
}

func (c *HTTPClient) DeletePackage(ctx context.Context, packageID string) error {
	return c.do(ctx, http.MethodDelete, "/packages/"+packageID, nil, nil)
}

// UploadPackage shells out to the configured external upload tool rather
// than implementing distribution-point transfer in process.
// Failures from the tool surface as Unavailable, since they are almost
// always a transient distribution-point or credential problem rather than
// a business-rule violation.
func (c *HTTPClient) UploadPackage(ctx context.Context, packageID, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return xoloerr.NotFoundf("package upload source %s not found: %v", localPath, err)
	}
	cmd := c.execCmd(ctx, c.cfg.UploadTool, "--package-id", packageID, "--file", localPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return unavailablef("upload tool %s failed for package %s: %v (%s)", c.cfg.UploadTool, packageID, err, string(out))
	}
	return nil
}

func (c *HTTPClient) CreatePolicy(ctx context.Context, spec PolicySpec) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/policies", spec, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) UpdatePolicy(ctx context.Context, policyID string, patch PolicyUpdate) error {
	return c.do(ctx, http.MethodPatch, "/policies/"+policyID, patch, nil)
}

func (c *HTTPClient) EnablePolicy(ctx context.Context, policyID string) error {
	return c.do(ctx, http.MethodPost, "/policies/"+policyID+"/enable", nil, nil)
}

func (c *HTTPClient) DisablePolicy(ctx context.Context, policyID string) error {
	return c.do(ctx, http.MethodPost, "/policies/"+policyID+"/disable", nil, nil)
}

func (c *HTTPClient) DeletePolicy(ctx context.Context, policyID string) error {
	return c.do(ctx, http.MethodDelete, "/policies/"+policyID, nil, nil)
}

func (c *HTTPClient) ActivatePatchTitle(ctx context.Context, slug, catalogTitleID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	payload := struct {
		Slug           string `json:"slug"`
		CatalogTitleID string `json:"catalog_title_id"`
	}{Slug: slug, CatalogTitleID: catalogTitleID}
	if err := c.do(ctx, http.MethodPost, "/patch-titles", payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) DeactivatePatchTitle(ctx context.Context, fleetPatchTitleID string) error {
	return c.do(ctx, http.MethodDelete, "/patch-titles/"+fleetPatchTitleID, nil, nil)
}

func (c *HTTPClient) AssignPatchPackage(ctx context.Context, fleetPatchTitleID, version, packageID string) error {
	payload := struct {
		PackageID string `json:"package_id"`
	}{PackageID: packageID}
	return c.do(ctx, http.MethodPut, "/patch-titles/"+fleetPatchTitleID+"/versions/"+version+"/package", payload, nil)
}

func (c *HTTPClient) UpsertNormalEA(ctx context.Context, criteria EACriteria) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPut, "/extension-attributes/"+criteria.Name, criteria, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) DeleteEA(ctx context.Context, eaID string) error {
	return c.do(ctx, http.MethodDelete, "/extension-attributes/"+eaID, nil, nil)
}

func (c *HTTPClient) EAAcceptanceStatus(ctx context.Context, titleSlug string) (EAAcceptance, error) {
	var out EAAcceptance
	if err := c.do(ctx, http.MethodGet, "/titles/"+titleSlug+"/ea-acceptance", nil, &out); err != nil {
		return EAAcceptance{}, err
	}
	return out, nil
}

func (c *HTTPClient) AcceptEA(ctx context.Context, titleSlug string) error {
	return c.do(ctx, http.MethodPost, "/titles/"+titleSlug+"/ea-acceptance/accept", nil, nil)
}

// UploadIcon posts a self-service icon as multipart form data — unlike
// package upload, Fleet's icon endpoint accepts a direct HTTP upload, so no
// external tool is involved.
func (c *HTTPClient) UploadIcon(ctx context.Context, localPath string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("fleet rate limiter: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", xoloerr.NotFoundf("icon source %s not found: %v", localPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("icon", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("build icon upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read icon file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close icon upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/icons", &body)
	if err != nil {
		return "", fmt.Errorf("build icon upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", unavailablef("icon upload: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, string(data))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode icon upload response: %w", err)
	}
	return out.ID, nil
}

func (c *HTTPClient) DeployMDM(ctx context.Context, deviceGroupID, packageID string) error {
	payload := struct {
		DeviceGroupID string `json:"device_group_id"`
		PackageID     string `json:"package_id"`
	}{DeviceGroupID: deviceGroupID, PackageID: packageID}
	return c.do(ctx, http.MethodPost, "/mdm/deploy", payload, nil)
}

func (c *HTTPClient) IsGroupMember(ctx context.Context, groupID, principal string) (bool, error) {
	var out struct {
		Member bool `json:"member"`
	}
	if err := c.do(ctx, http.MethodGet, "/groups/"+groupID+"/members/"+principal, nil, &out); err != nil {
		if xoloerr.Is(err, xoloerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return out.Member, nil
}

func (c *HTTPClient) FlushPolicyLogs(ctx context.Context, policyID string) error {
	return c.do(ctx, http.MethodPost, "/policies/"+policyID+"/flush-logs", nil, nil)
}
