package backend

import (
	"fmt"
	"net/url"
	"time"
)

// endpoint pins an operation to the API version that serves it. The backend moves
// endpoints between versions independently, so the version is per endpoint.
type endpoint struct {
	version string
	pattern string
	ttl     time.Duration
}

func (e endpoint) path(args ...string) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(a)
	}
	return "/api/" + e.version + fmt.Sprintf(e.pattern, escaped...)
}

var (
	epCreateOrder            = endpoint{version: "v1", pattern: "/orders"}
	epCreateOrderFromBooking = endpoint{version: "v1", pattern: "/orders/from-booking/%s"}
	epPrepareOrder           = endpoint{version: "v2", pattern: "/payments/prepare-order"}
	epGetOrder               = endpoint{version: "v1", pattern: "/orders/%s", ttl: 30 * time.Second}
	epAddModifier            = endpoint{version: "v1", pattern: "/orders/%s/modifiers"}
	epUpdateOrderState       = endpoint{version: "v1", pattern: "/orders/%s/state"}
	epProcessPayment         = endpoint{version: "v1", pattern: "/payments/process"}
	epSplitPayment           = endpoint{version: "v1", pattern: "/payments/split"}
	epLoyaltyCheck           = endpoint{version: "v1", pattern: "/loyalty/customers/%s/check", ttl: time.Minute}
	epRedeemVisit            = endpoint{version: "v1", pattern: "/loyalty/redeem-visit"}
	epRedeemPoints           = endpoint{version: "v1", pattern: "/loyalty/redeem-points"}
	epMerchantSettings       = endpoint{version: "v1", pattern: "/merchant/settings", ttl: 5 * time.Minute}
	epRefreshToken           = endpoint{version: "v1", pattern: "/auth/refresh"}
)

func orderKey(orderID string) string {
	return "order:" + orderID
}

func loyaltyKey(customerID string) string {
	return "loyalty:" + customerID
}

const settingsKey = "settings:merchant"
