package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/cardrip/internal/storage"
)

// probeKey is written and removed again by the storage checker.
const probeKey = "healthProbe"

// BackendChecker reports ready when the price checker backend answers its
// set-list cache endpoint.
func BackendChecker(baseURL string) Checker {
	client := &http.Client{Timeout: checkTimeout}
	return Checker{
		Name: "backend",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/card-sets/from-cache", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("backend at %s unreachable: %w", baseURL, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("backend at %s returned HTTP %d", baseURL, resp.StatusCode)
			}
			return nil
		},
	}
}

// StorageChecker reports ready when the KV store accepts a write.
func StorageChecker(kv storage.KV) Checker {
	return Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			val := []byte(time.Now().Format(time.RFC3339Nano))
			if err := kv.Set(ctx, probeKey, val); err != nil {
				return fmt.Errorf("storage write failed: %w", err)
			}
			return kv.Remove(ctx, probeKey)
		},
	}
}
