package capisync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/models"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/utils"
)

const (
	defaultBaseURL       = "https://googleads.googleapis.com"
	defaultAPIVersion    = "v16"
	defaultUploadTimeout = 30 * time.Second
	defaultRatePerMinute = 60
)

// UploadClientConfig carries the platform connection settings. The developer
// token is account-independent; per-account credentials live on the registry.
type UploadClientConfig struct {
	BaseURL         string
	APIVersion      string
	DeveloperToken  string
	Timeout         time.Duration
	RateLimitPerMin int
}

func UploadClientConfigFromEnv() UploadClientConfig {
	cfg := UploadClientConfig{
		BaseURL:         defaultBaseURL,
		APIVersion:      defaultAPIVersion,
		DeveloperToken:  strings.TrimSpace(os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN")),
		Timeout:         defaultUploadTimeout,
		RateLimitPerMin: defaultRatePerMinute,
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_ADS_API_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_ADS_API_VERSION")); v != "" {
		cfg.APIVersion = v
	}
	if n := config.IntFromEnv("GOOGLE_ADS_UPLOAD_TIMEOUT_SECONDS", 0); n > 0 {
		cfg.Timeout = time.Duration(n) * time.Second
	}
	if n := config.IntFromEnv("GOOGLE_ADS_RATE_LIMIT_PER_MIN", 0); n > 0 {
		cfg.RateLimitPerMin = n
	}
	return cfg
}

// UploadResult reports the outcome of a single batch upload. Success means at
// least one conversion was accepted, so callers must still check FailureCount.
type UploadResult struct {
	Success      bool     `json:"success"`
	TotalEvents  int      `json:"total_events"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Errors       []string `json:"errors,omitempty"`
}

type uploadClient struct {
	baseURL        string
	apiVersion     string
	developerToken string
	httpClient     *http.Client
	rateLimiter    <-chan time.Time
}

func newUploadClient(cfg UploadClientConfig) (*uploadClient, error) {
	if strings.TrimSpace(cfg.DeveloperToken) == "" {
		return nil, errors.New("GOOGLE_ADS_DEVELOPER_TOKEN is not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	rate := cfg.RateLimitPerMin
	if rate <= 0 {
		rate = defaultRatePerMinute
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	return &uploadClient{
		baseURL:        baseURL,
		apiVersion:     apiVersion,
		developerToken: cfg.DeveloperToken,
		httpClient:     &http.Client{Timeout: timeout},
		rateLimiter:    time.Tick(time.Minute / time.Duration(rate)),
	}, nil
}

type clickConversion struct {
	ConversionAction   string           `json:"conversionAction"`
	ConversionDateTime string           `json:"conversionDateTime"`
	ConversionValue    *float64         `json:"conversionValue,omitempty"`
	CurrencyCode       string           `json:"currencyCode,omitempty"`
	OrderId            string           `json:"orderId,omitempty"`
	UserIdentifiers    []userIdentifier `json:"userIdentifiers,omitempty"`
}

type userIdentifier struct {
	HashedEmail       string       `json:"hashedEmail,omitempty"`
	HashedPhoneNumber string       `json:"hashedPhoneNumber,omitempty"`
	AddressInfo       *addressInfo `json:"addressInfo,omitempty"`
}

type addressInfo struct {
	HashedFirstName string `json:"hashedFirstName,omitempty"`
	HashedLastName  string `json:"hashedLastName,omitempty"`
}

type uploadRequest struct {
	Conversions    []clickConversion `json:"conversions"`
	PartialFailure bool              `json:"partialFailure"`
}

type uploadResponse struct {
	PartialFailureError *rpcStatus        `json:"partialFailureError"`
	Results             []json.RawMessage `json:"results"`
}

type rpcStatus struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Details []failureDetail `json:"details"`
}

type failureDetail struct {
	Errors []adsError `json:"errors"`
}

type adsError struct {
	Message  string         `json:"message"`
	Location *errorLocation `json:"location"`
}

type errorLocation struct {
	FieldPathElements []fieldPathElement `json:"fieldPathElements"`
}

type fieldPathElement struct {
	FieldName string `json:"fieldName"`
	Index     *int   `json:"index"`
}

// conversionDateTime renders UTC instants in the platform's expected layout,
// e.g. "2024-03-01 17:05:30+00:00".
func conversionDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05") + "+00:00"
}

func buildClickConversion(account models.SyncAccountConfig, event models.ConversionEvent) clickConversion {
	conv := clickConversion{
		ConversionAction:   fmt.Sprintf("customers/%s/conversionActions/%s", account.CustomerId, account.ConversionActionId),
		ConversionDateTime: conversionDateTime(event.EventTime),
	}
	if event.EventValue != nil {
		value, _ := event.EventValue.Float64()
		conv.ConversionValue = &value
		conv.CurrencyCode = event.Currency
	}
	if event.TransactionId != nil && *event.TransactionId != "" {
		conv.OrderId = *event.TransactionId
	}
	var identifiers []userIdentifier
	if event.UserEmailHash != nil {
		identifiers = append(identifiers, userIdentifier{HashedEmail: *event.UserEmailHash})
	}
	if event.UserPhoneHash != nil {
		identifiers = append(identifiers, userIdentifier{HashedPhoneNumber: *event.UserPhoneHash})
	}
	if event.UserFirstNameHash != nil || event.UserLastNameHash != nil {
		identifiers = append(identifiers, userIdentifier{AddressInfo: &addressInfo{
			HashedFirstName: utils.DereferencePtr(event.UserFirstNameHash, ""),
			HashedLastName:  utils.DereferencePtr(event.UserLastNameHash, ""),
		}})
	}
	conv.UserIdentifiers = identifiers
	return conv
}

func transportFailureResult(total int, err error) UploadResult {
	return UploadResult{
		TotalEvents:  total,
		FailureCount: total,
		Errors:       []string{err.Error()},
	}
}

// UploadConversions pushes one batch to the conversion upload endpoint and
// translates the three response shapes (transport failure, partial failure,
// full success) into a single result.
func (c *uploadClient) UploadConversions(ctx context.Context, account models.SyncAccountConfig, events []models.ConversionEvent) UploadResult {
	total := len(events)
	if total == 0 {
		return UploadResult{Success: true}
	}

	conversions := make([]clickConversion, 0, total)
	for _, event := range events {
		conversions = append(conversions, buildClickConversion(account, event))
	}
	body, err := json.Marshal(uploadRequest{Conversions: conversions, PartialFailure: true})
	if err != nil {
		return transportFailureResult(total, err)
	}

	endpoint := fmt.Sprintf("%s/%s/customers/%s:uploadClickConversions", c.baseURL, c.apiVersion, account.CustomerId)

	<-c.rateLimiter

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transportFailureResult(total, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+utils.DereferencePtr(account.AccessToken, ""))
	req.Header.Set("developer-token", c.developerToken)
	req.Header.Set("login-customer-id", account.CustomerId)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailureResult(total, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailureResult(total, fmt.Errorf("reading upload response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transportFailureResult(total, fmt.Errorf("upload request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return transportFailureResult(total, fmt.Errorf("decoding upload response: %w", err))
	}

	if parsed.PartialFailureError == nil {
		return UploadResult{Success: true, TotalEvents: total, SuccessCount: total}
	}

	failures := collectFailureMessages(parsed.PartialFailureError)
	failed := len(failures)
	if failed > total {
		failed = total
	}
	return UploadResult{
		Success:      total-failed > 0,
		TotalEvents:  total,
		SuccessCount: total - failed,
		FailureCount: failed,
		Errors:       failures,
	}
}

// collectFailureMessages flattens the per-operation errors nested inside the
// partial failure status. Falls back to the top-level message so a failure is
// never reported without at least one error string.
func collectFailureMessages(status *rpcStatus) []string {
	var messages []string
	for _, detail := range status.Details {
		for _, adsErr := range detail.Errors {
			if strings.TrimSpace(adsErr.Message) == "" {
				continue
			}
			messages = append(messages, adsErr.Message)
		}
	}
	if len(messages) == 0 {
		if strings.TrimSpace(status.Message) != "" {
			messages = append(messages, status.Message)
		} else {
			messages = append(messages, "partial failure reported without details")
		}
	}
	return messages
}
