package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

// Subscribe opens the server's event stream for one collection. The
// subscription ends when ctx ends, on Unsubscribe, when the server closes
// the stream, or when the reader falls behind the local buffer. Callers
// treat every end as "re-read and resubscribe".
func (c *Client) Subscribe(ctx context.Context, f stream.Filter) (*stream.Subscription, error) {
	if strings.TrimSpace(f.Collection) == "" {
		return nil, stream.ErrInvalidFilter
	}
	params := url.Values{"collection": []string{f.Collection}}
	if f.OwnerID != "" {
		params.Set("owner_id", f.OwnerID)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/v1/stream?"+params.Encode(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("client.Subscribe: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("client.Subscribe: %w", lifecycle.StoreUnavailable("Subscribe", err))
	}
	if resp.StatusCode >= 400 {
		defer cancel()
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, fmt.Errorf("client.Subscribe: %w", readError(resp))
	}

	sub := stream.NewSubscription(f, c.streamBuffer, cancel)
	go func() {
		defer sub.Unsubscribe()
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		readEvents(resp, sub)
	}()
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// readEvents decodes SSE frames until the body ends or delivery fails.
func readEvents(resp *http.Response, sub *stream.Subscription) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var change stream.Change
			err := json.Unmarshal([]byte(data.String()), &change)
			data.Reset()
			if err != nil {
				continue
			}
			if !sub.Deliver(change) {
				return
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
