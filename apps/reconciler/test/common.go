package test

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

// Smoke tests run against a deployed reconciler. They are skipped unless RECONCILER_BASE_URL is set.
const (
	baseURLEnv = "RECONCILER_BASE_URL"
	rpcURLEnv  = "RPC_URL"

	// no intent is ever created with this id
	unknownIntentID = "0x00000000000000000000000000000000000000000000000000000000deadbeef"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// loadEnvConfig loads a .env next to the tests if present
func loadEnvConfig() {
	if err := godotenv.Load(".env"); err == nil {
		log.Printf("Loaded environment variables from .env")
	}
}

func baseURL(t *testing.T) string {
	t.Helper()
	loadEnvConfig()
	url := os.Getenv(baseURLEnv)
	if url == "" {
		t.Skipf("Skipping smoke test: %s not set", baseURLEnv)
	}
	return url
}

// getJSON issues a GET and decodes the body into out, returning the status code.
func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := httpClient.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}
