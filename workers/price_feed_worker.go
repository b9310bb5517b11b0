package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"contest-engine/services"
)

// PriceFeedClient polls an external candle API and feeds closed candles into
// the oracle window. The feed is advisory: a fetch failure just means entries
// park until the next successful poll.
type PriceFeedClient struct {
	BaseURL    string
	Symbol     string
	HTTPClient *http.Client
	Oracle     *services.OracleService
}

func NewPriceFeedClient(oracle *services.OracleService) *PriceFeedClient {
	baseURL := os.Getenv("PRICE_FEED_URL")
	if baseURL == "" {
		log.Fatal("PRICE_FEED_URL environment variable is required")
	}
	symbol := os.Getenv("PRICE_FEED_SYMBOL")
	if symbol == "" {
		log.Fatal("PRICE_FEED_SYMBOL environment variable is required")
	}

	return &PriceFeedClient{
		BaseURL: baseURL,
		Symbol:  symbol,
		Oracle:  oracle,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type candle struct {
	OpenTime    int64 `json:"open_time"`
	High        int64 `json:"high"` // fixed-point, 1e6 quote units per major unit
	IntervalSec int64 `json:"interval_sec"`
	Closed      bool  `json:"closed"`
}

// GetRecentCandles fetches the feed's latest candles for the configured
// symbol.
func (c *PriceFeedClient) GetRecentCandles(ctx context.Context) ([]candle, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/candles", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed URL: %w", err)
	}

	q := u.Query()
	q.Set("symbol", c.Symbol)
	q.Set("limit", "10")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call price feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("price feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Candles []candle `json:"candles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode price feed response: %w", err)
	}
	return response.Candles, nil
}

// PollPrices runs until ctx is cancelled, recording every closed candle the
// feed returns. Already-recorded open times are skipped quietly; the feed
// overlaps windows on purpose so a missed tick loses nothing.
func PollPrices(ctx context.Context, client *PriceFeedClient, pollInterval time.Duration) {
	log.Println("Starting price feed polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Price feed polling stopped.")
			return
		case <-ticker.C:
			candles, err := client.GetRecentCandles(ctx)
			if err != nil {
				log.Printf("❌ Error polling price feed: %v", err)
				continue
			}

			recorded := 0
			for _, cd := range candles {
				if !cd.Closed {
					continue
				}
				err := client.Oracle.Record(client.Oracle.DB, cd.OpenTime, cd.High, cd.IntervalSec)
				if err != nil {
					// Duplicates and out-of-window candles are expected noise.
					continue
				}
				recorded++
			}
			if recorded > 0 {
				log.Printf("📈 Recorded %d new price sample(s) from feed.", recorded)
			}
		}
	}
}
