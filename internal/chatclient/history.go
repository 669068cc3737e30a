package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"foodshare-chat/internal/models"
	"foodshare-chat/internal/types"
)

// History fetches a thread from the REST endpoint. With an empty or "global"
// userB it returns the shared channel.
func History(ctx context.Context, httpClient *http.Client, baseURL, userA, userB, search string) ([]types.MessageView, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	q := url.Values{}
	if userB == "" || userB == models.GlobalRoom {
		q.Set("room", models.GlobalRoom)
	} else {
		q.Set("userA", userA)
		q.Set("userB", userB)
	}
	if search != "" {
		q.Set("search", search)
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/api/chat/history?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("history request: status %d: %s", resp.StatusCode, e.Message)
	}

	var views []types.MessageView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return views, nil
}
