package domain

import "time"

// Distribution counts how often a product was placed in the top three.
type Distribution struct {
	Count1st int     `json:"count_1st"`
	Count2nd int     `json:"count_2nd"`
	Count3rd int     `json:"count_3rd"`
	Pct1st   float64 `json:"pct_1st"`
	Pct2nd   float64 `json:"pct_2nd"`
	Pct3rd   float64 `json:"pct_3rd"`
}

// ProductStats is the per-product ranking aggregate.
type ProductStats struct {
	ProductID     string       `json:"product_id"`
	Count         int          `json:"count"`
	UniqueRankers int          `json:"unique_rankers"`
	AvgRank       *float64     `json:"avg_rank"`
	BestRank      *int         `json:"best_rank"`
	WorstRank     *int         `json:"worst_rank"`
	LastRankedAt  *time.Time   `json:"last_ranked_at"`
	Distribution  Distribution `json:"distribution"`
}

// ProductInfo is the product metadata cache value.
type ProductInfo struct {
	ProductID        string     `json:"product_id"`
	Title            string     `json:"title"`
	Vendor           string     `json:"vendor"`
	AnimalType       string     `json:"animal_type"`
	AnimalDisplay    string     `json:"animal_display"`
	AnimalIcon       string     `json:"animal_icon"`
	PrimaryFlavor    string     `json:"primary_flavor"`
	SecondaryFlavors []string   `json:"secondary_flavors"`
	FlavorDisplay    string     `json:"flavor_display"`
	FlavorIcon       string     `json:"flavor_icon"`
	Tags             string     `json:"tags"`
	ShopifyCreatedAt *time.Time `json:"shopify_created_at,omitempty"`
}

// LeaderboardEntry is one row of a leaderboard period.
type LeaderboardEntry struct {
	Position     int    `json:"position"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	RankingCount int    `json:"rankingCount"`
	Achievements int    `json:"achievements"`
}

// LeaderboardPosition is a user's standing in one period.
type LeaderboardPosition struct {
	UserID       string `json:"userId"`
	Period       string `json:"period"`
	Position     *int   `json:"position"`
	RankingCount int    `json:"rankingCount"`
	TotalUsers   int    `json:"totalUsers"`
}

// HomeStats is the community summary shown on the landing page.
type HomeStats struct {
	TotalUsers         int64     `json:"totalUsers"`
	TotalRankings      int64     `json:"totalRankings"`
	ProductsRanked     int64     `json:"productsRanked"`
	AchievementsEarned int64     `json:"achievementsEarned"`
	GeneratedAt        time.Time `json:"generatedAt"`
}
