// Package coincodex fetches the CoinCodex market listing used to enrich the
// token tables of the dashboard.
//
// The listing is a single large JSON object keyed by symbol whose values are
// loosely typed: numbers may arrive as numbers, numeric strings, empty
// strings or null. Every numeric field is coerced, falling back to 0. The
// listing is cached in memory for the configured TTL; when a refetch fails,
// the previous listing is served.
package coincodex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/models"
)

// DefaultURL is the public CoinCodex listing.
const DefaultURL = "https://coincodex.com/apps/coincodex/cache/all_coins.json"

// Client fetches and caches the CoinCodex listing
type Client struct {
	http *resty.Client
	url  string
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	coins     []models.Coin
	fetchedAt time.Time
}

// NewClient creates a client for the listing at url. A ttl of 0 disables caching.
func NewClient(url string, timeout, ttl time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		url: url,
		ttl: ttl,
		now: time.Now,
	}
}

// Coins returns the listing sorted by market cap rank ascending, together
// with the time it was fetched.
func (c *Client) Coins(ctx context.Context) ([]models.Coin, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.coins != nil && c.ttl > 0 && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.coins, c.fetchedAt, nil
	}

	coins, err := c.fetch(ctx)
	if err != nil {
		if c.coins != nil {
			logger.Warn("Failed to refresh CoinCodex listing, serving listing from %v: %v", c.fetchedAt, err)
			return c.coins, c.fetchedAt, nil
		}
		return nil, time.Time{}, err
	}

	c.coins = coins
	c.fetchedAt = c.now()
	logger.Info("Fetched %d coins from CoinCodex", len(coins))
	return c.coins, c.fetchedAt, nil
}

func (c *Client) fetch(ctx context.Context) ([]models.Coin, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch coin listing: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("coin listing: HTTP error status %d", resp.StatusCode())
	}

	var listing map[string]map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &listing); err != nil {
		return nil, fmt.Errorf("failed to decode coin listing: %w", err)
	}

	coins := make([]models.Coin, 0, len(listing))
	for _, raw := range listing {
		coins = append(coins, decodeCoin(raw))
	}
	// Map order is random; order by symbol first so equal ranks are stable.
	sort.Slice(coins, func(i, j int) bool { return coins[i].Symbol < coins[j].Symbol })
	sort.SliceStable(coins, func(i, j int) bool { return coins[i].MarketCapRank < coins[j].MarketCapRank })
	return coins, nil
}

func decodeCoin(raw map[string]json.RawMessage) models.Coin {
	return models.Coin{
		Symbol:                 text(raw["symbol"]),
		DisplaySymbol:          text(raw["display_symbol"]),
		Name:                   text(raw["name"]),
		Aliases:                text(raw["aliases"]),
		Shortname:              text(raw["shortname"]),
		LastPriceUSD:           number(raw["last_price_usd"]),
		MarketCapRank:          number(raw["market_cap_rank"]),
		VolumeRank:             number(raw["volume_rank"]),
		PriceChange1HPercent:   number(raw["price_change_1H_percent"]),
		PriceChange1DPercent:   number(raw["price_change_1D_percent"]),
		PriceChange7DPercent:   number(raw["price_change_7D_percent"]),
		PriceChange30DPercent:  number(raw["price_change_30D_percent"]),
		PriceChange90DPercent:  number(raw["price_change_90D_percent"]),
		PriceChange180DPercent: number(raw["price_change_180D_percent"]),
		PriceChange365DPercent: number(raw["price_change_365D_percent"]),
		PriceChange3YPercent:   number(raw["price_change_3Y_percent"]),
		PriceChange5YPercent:   number(raw["price_change_5Y_percent"]),
		PriceChangeAllPercent:  number(raw["price_change_ALL_percent"]),
		PriceChangeYTDPercent:  number(raw["price_change_YTD_percent"]),
		Volume24USD:            number(raw["volume_24_usd"]),
		Display:                text(raw["display"]),
		TradingSince:           text(raw["trading_since"]),
		Supply:                 number(raw["supply"]),
		LastUpdate:             text(raw["last_update"]),
		ICOEnd:                 text(raw["ico_end"]),
		IncludeSupply:          text(raw["include_supply"]),
		UseVolume:              text(raw["use_volume"]),
		GrowthAllTime:          text(raw["growth_all_time"]),
		CCUSlug:                text(raw["ccu_slug"]),
		ImageID:                text(raw["image_id"]),
		ImageT:                 number(raw["image_t"]),
		MarketCapUSD:           number(raw["market_cap_usd"]),
		Categories:             categories(raw["categories"]),
	}
}

// number coerces a JSON number or numeric string; anything else is 0.
func number(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	f, _ = d.Float64()
	return f
}

// text returns a JSON string as is, "" for null or missing, and the literal
// JSON text for any other value.
func text(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// categories returns the string entries of a JSON array, or an empty list.
func categories(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := text(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
