package backend

import (
	"context"
	"net/http"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
)

func (c *Client) CheckLoyalty(ctx context.Context, customerID string) (*d.LoyaltyCheckResponse, error) {
	body, err := c.send(ctx, call{
		method:   http.MethodGet,
		path:     epLoyaltyCheck.path(customerID),
		cacheKey: loyaltyKey(customerID),
		ttl:      epLoyaltyCheck.ttl,
	})
	if err != nil {
		return nil, err
	}
	var out d.LoyaltyCheckResponse
	if err := decodeInto(body, &out, "data"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RedeemVisit(ctx context.Context, customerID, orderID string) (*d.VisitRedemption, error) {
	body, err := c.send(ctx, call{
		method:     http.MethodPost,
		path:       epRedeemVisit.path(),
		body:       map[string]any{"customerId": customerID, "orderId": orderID},
		invalidate: redeemInvalidations(customerID, orderID),
	})
	if err != nil {
		return nil, err
	}
	var out d.VisitRedemption
	if err := decodeInto(body, &out, "data"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RedeemPoints(ctx context.Context, customerID string, points int, orderID string) (*d.PointsRedemption, error) {
	body, err := c.send(ctx, call{
		method:     http.MethodPost,
		path:       epRedeemPoints.path(),
		body:       map[string]any{"customerId": customerID, "points": points, "orderId": orderID},
		invalidate: redeemInvalidations(customerID, orderID),
	})
	if err != nil {
		return nil, err
	}
	var out d.PointsRedemption
	if err := decodeInto(body, &out, "data"); err != nil {
		return nil, err
	}
	return &out, nil
}

func redeemInvalidations(customerID, orderID string) []string {
	keys := []string{loyaltyKey(customerID)}
	if orderID != "" {
		keys = append(keys, orderKey(orderID))
	}
	return keys
}
