package passengers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticketing/internal/domain"
)

// HTTPClient asks the passenger service: GET {base}/passenger/profile/{id}.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) HTTPClient {
	return HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (c HTTPClient) PassengerExists(ctx context.Context, passengerID string) (bool, error) {
	endpoint := c.BaseURL + "/passenger/profile/" + url.PathEscape(passengerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, unavailable("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, unavailable("request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unavailable(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func unavailable(msg string, err error) error {
	return domain.TicketError{Kind: domain.KindPassengerDirectoryUnavailable, Msg: "passenger directory: " + msg, Err: err}
}
