package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/pkg/types"
)

// RESTAdapter places orders against a generic signed REST venue, retrying
// transient failures via go-retryablehttp's exponential backoff before the
// caller's own per-venue timeout expires.
type RESTAdapter struct {
	venue     string
	baseURL   string
	apiKey    string
	apiSecret string
	logger    *zap.Logger
	client    *retryablehttp.Client
}

// NewRESTAdapter builds a REST adapter for venue at baseURL.
func NewRESTAdapter(logger *zap.Logger, venue, baseURL, apiKey, apiSecret string) *RESTAdapter {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	return &RESTAdapter{
		venue:     venue,
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		logger:    logger.Named("rest-adapter").With(zap.String("venue", venue)),
		client:    client,
	}
}

// Venue returns this adapter's venue name.
func (a *RESTAdapter) Venue() string {
	return a.venue
}

// PlaceOrder submits intent as a signed POST /order request.
func (a *RESTAdapter) PlaceOrder(ctx context.Context, intent types.OrderIntent) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", intent.Symbol)
	params.Set("side", string(intent.Side))
	params.Set("type", string(intent.Type))
	params.Set("quantity", intent.Qty.String())
	params.Set("newClientOrderId", intent.ClientOrderID)
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", a.sign(params.Encode()))

	reqURL := a.baseURL + "/order?" + params.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return OrderResult{}, err
	}
	req.Header.Set("X-API-KEY", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("%s: %w", a.venue, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OrderResult{}, err
	}
	if resp.StatusCode >= 400 {
		return OrderResult{}, fmt.Errorf("%s: order rejected: %s", a.venue, string(body))
	}

	var parsed struct {
		FillPrice string `json:"fillPrice"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return OrderResult{}, fmt.Errorf("%s: decode response: %w", a.venue, err)
	}

	fillPrice, _ := decimal.NewFromString(parsed.FillPrice)
	return OrderResult{
		Venue:         a.venue,
		ClientOrderID: intent.ClientOrderID,
		Filled:        parsed.Status == "FILLED",
		FillPrice:     fillPrice,
	}, nil
}

func (a *RESTAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(a.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
