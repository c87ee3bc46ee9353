package models

// Coin is one entry of the CoinCodex market listing. Numeric fields that the
// listing leaves empty or unparseable are 0; text fields are "".
type Coin struct {
	Symbol                 string   `json:"symbol"`
	DisplaySymbol          string   `json:"display_symbol"`
	Name                   string   `json:"name"`
	Aliases                string   `json:"aliases"`
	Shortname              string   `json:"shortname"`
	LastPriceUSD           float64  `json:"last_price_usd"`
	MarketCapRank          float64  `json:"market_cap_rank"`
	VolumeRank             float64  `json:"volume_rank"`
	PriceChange1HPercent   float64  `json:"price_change_1H_percent"`
	PriceChange1DPercent   float64  `json:"price_change_1D_percent"`
	PriceChange7DPercent   float64  `json:"price_change_7D_percent"`
	PriceChange30DPercent  float64  `json:"price_change_30D_percent"`
	PriceChange90DPercent  float64  `json:"price_change_90D_percent"`
	PriceChange180DPercent float64  `json:"price_change_180D_percent"`
	PriceChange365DPercent float64  `json:"price_change_365D_percent"`
	PriceChange3YPercent   float64  `json:"price_change_3Y_percent"`
	PriceChange5YPercent   float64  `json:"price_change_5Y_percent"`
	PriceChangeAllPercent  float64  `json:"price_change_ALL_percent"`
	PriceChangeYTDPercent  float64  `json:"price_change_YTD_percent"`
	Volume24USD            float64  `json:"volume_24_usd"`
	Display                string   `json:"display"`
	TradingSince           string   `json:"trading_since"`
	Supply                 float64  `json:"supply"`
	LastUpdate             string   `json:"last_update"`
	ICOEnd                 string   `json:"ico_end"`
	IncludeSupply          string   `json:"include_supply"`
	UseVolume              string   `json:"use_volume"`
	GrowthAllTime          string   `json:"growth_all_time"`
	CCUSlug                string   `json:"ccu_slug"`
	ImageID                string   `json:"image_id"`
	ImageT                 float64  `json:"image_t"`
	MarketCapUSD           float64  `json:"market_cap_usd"`
	Categories             []string `json:"categories"`
}
