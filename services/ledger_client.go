package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// Transferrer moves a fungible balance from the service's ledger account to a
// recipient. The caller-supplied request id deduplicates retries on the ledger
// side. Satisfied by LedgerClient in production and by fakes in tests.
type Transferrer interface {
	Transfer(requestID, to string, amount int64, memo string) error
}

// LedgerClient talks to the external value-transfer service. Inbound
// notifications arrive over the /ledger/transfers webhook; this client covers
// the outbound direction (refunds, claims, fee routing).
type LedgerClient struct {
	BaseURL    string
	Token      string
	Account    string // the service's own ledger account
	HTTPClient *http.Client
}

func NewLedgerClient() *LedgerClient {
	baseURL := os.Getenv("LEDGER_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("LEDGER_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("LEDGER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("LEDGER_SERVICE_TOKEN environment variable is required")
	}
	account := os.Getenv("LEDGER_ACCOUNT")
	if account == "" {
		log.Fatal("LEDGER_ACCOUNT environment variable is required")
	}

	return &LedgerClient{
		BaseURL: baseURL,
		Token:   token,
		Account: account,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transfer requests an outbound transfer. The request id makes retries after
// a network failure idempotent on the ledger side.
func (c *LedgerClient) Transfer(requestID, to string, amount int64, memo string) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload := map[string]interface{}{
		"request_id": requestID,
		"from":       c.Account,
		"to":         to,
		"amount":     amount,
		"memo":       memo,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode transfer request: %w", err)
	}

	req, err := http.NewRequest("POST", c.BaseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call ledger service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ledger service returned status %d: %s", resp.StatusCode, string(raw))
	}

	log.Printf("💸 transfer sent: %d to %s (memo: %s)", amount, to, memo)
	return nil
}
