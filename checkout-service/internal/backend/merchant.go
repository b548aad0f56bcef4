package backend

import (
	"context"
	"net/http"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/auth"
	"github.com/shopspring/decimal"
)

var defaultTipPercentages = []decimal.Decimal{
	decimal.NewFromInt(10),
	decimal.NewFromInt(15),
	decimal.NewFromInt(20),
}

// GetMerchantSettings returns the feature gates for the signed-in merchant.
func (c *Client) GetMerchantSettings(ctx context.Context) (*d.MerchantSettings, error) {
	body, err := c.send(ctx, call{
		method:   http.MethodGet,
		path:     epMerchantSettings.path(),
		cacheKey: settingsKey,
		ttl:      epMerchantSettings.ttl,
	})
	if err != nil {
		return nil, err
	}
	var out d.MerchantSettings
	if err := decodeInto(body, &out, "settings", "data"); err != nil {
		return nil, err
	}
	if out.TipsEnabled && len(out.TipPercentages) == 0 {
		out.TipPercentages = defaultTipPercentages
	}
	if out.Currency == "" {
		out.Currency = "AUD"
	}
	return &out, nil
}

// Refresh exchanges a refresh token. It is unauthenticated and satisfies auth.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	body, err := c.send(ctx, call{
		method:    http.MethodPost,
		path:      epRefreshToken.path(),
		body:      map[string]string{"refreshToken": refreshToken},
		anonymous: true,
	})
	if err != nil {
		return auth.Tokens{}, err
	}
	var out auth.Tokens
	if err := decodeInto(body, &out, "data"); err != nil {
		return auth.Tokens{}, err
	}
	return out, nil
}
