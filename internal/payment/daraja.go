package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SandboxBaseURL is the Daraja sandbox environment.
const SandboxBaseURL = "https://sandbox.safaricom.co.ke"

// DefaultTimeout bounds every call to the gateway.
const DefaultTimeout = 30 * time.Second

// TransactionType is the STK push variant used for tips.
const TransactionType = "CustomerPayBillOnline"

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
)

// Daraja expects timestamps in Kenyan local time.
var eat = time.FixedZone("EAT", 3*60*60)

// DarajaConfig holds the M-Pesa API credentials.
type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// DarajaClient talks to the Safaricom Daraja API.
type DarajaClient struct {
	cfg  DarajaConfig
	http *http.Client
	now  func() time.Time

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// NewDarajaClient creates a client. Zero BaseURL and Timeout fall back to the
// sandbox and DefaultTimeout.
func NewDarajaClient(cfg DarajaConfig) *DarajaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &DarajaClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// GatewayError is a non-2xx answer from Daraja.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned HTTP %d: %s", e.StatusCode, e.Message)
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPush implements Gateway.
func (c *DarajaClient) STKPush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.now())
	phone := NormalizePhone(req.Phone)

	body, err := json.Marshal(stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   TransactionType,
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding STK push: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating STK push request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending STK push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, gatewayError(resp)
	}

	var out PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding STK push response: %w", err)
	}

	log.Debug().
		Str("account_reference", req.AccountReference).
		Str("checkout_request_id", out.CheckoutRequestID).
		Str("response_code", out.ResponseCode).
		Msg("STK push sent")

	return &out, nil
}

// accessToken returns a cached OAuth token, fetching a new one when the
// cached one is about to expire.
func (c *DarajaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.tokenExpires) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", gatewayError(resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding access token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("gateway returned an empty access token")
	}

	ttl, err := strconv.Atoi(body.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	c.token = body.AccessToken
	// Refresh a minute early.
	c.tokenExpires = now.Add(time.Duration(ttl)*time.Second - time.Minute)

	return c.token, nil
}

func gatewayError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	json.Unmarshal(data, &body)
	return &GatewayError{
		StatusCode: resp.StatusCode,
		Code:       body.ErrorCode,
		Message:    body.ErrorMessage,
	}
}

var phonePrefix = regexp.MustCompile(`^(0|\+254)`)

// NormalizePhone rewrites local (0...) and international (+254...) Kenyan
// numbers to the 254... form Daraja expects.
func NormalizePhone(phone string) string {
	phone = strings.Join(strings.Fields(phone), "")
	return phonePrefix.ReplaceAllString(phone, "254")
}

// Timestamp formats t the way Daraja expects: YYYYMMDDHHmmss in EAT.
func Timestamp(t time.Time) string {
	return t.In(eat).Format("20060102150405")
}

// Password derives the STK push password from the short code, passkey and
// request timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
