package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// get performs a GET against the toncenter endpoint, attaching the API key
// header when configured.
func (a *Adapter) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := a.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("toncenter returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
