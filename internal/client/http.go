package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

// Post publishes req through the REST endpoint. A nil httpClient uses
// http.DefaultClient.
func Post(ctx context.Context, httpClient *http.Client, base string, req protocol.PublishRequest) (chat.Ack, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	body, err := json.Marshal(req)
	if err != nil {
		return chat.Ack{}, err
	}

	endpoint := strings.TrimSuffix(base, "/") + "/api/messages"
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return chat.Ack{}, err
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(r)
	if err != nil {
		return chat.Ack{}, fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var f protocol.Frame
		if err := json.NewDecoder(resp.Body).Decode(&f); err != nil || f.Error == nil {
			return chat.Ack{}, fmt.Errorf("post message: unexpected status %s", resp.Status)
		}
		return chat.Ack{}, f.Err()
	}

	var ack chat.Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return chat.Ack{}, fmt.Errorf("decode ack: %w", err)
	}
	return ack, nil
}
