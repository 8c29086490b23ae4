package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

// HTTPClient calls the transport service: GET {base}/transport/trips/{id}.
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

type tripPayload struct {
	ID            string          `json:"id"`
	RouteID       string          `json:"routeId"`
	Fare          decimal.Decimal `json:"fare"`
	Currency      string          `json:"currency"`
	DepartureTime time.Time       `json:"departureTime"`
	Status        string          `json:"status"`
}

func (c HTTPClient) GetTripFare(ctx context.Context, tripID string) (models.TripFare, error) {
	endpoint := c.BaseURL + "/transport/trips/" + url.PathEscape(tripID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.TripFare{}, unavailable("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.TripFare{}, unavailable("request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.TripFare{}, domain.TicketError{Kind: domain.KindTripNotFound, Msg: "trip " + tripID + " not found"}
	case resp.StatusCode == http.StatusGone:
		return models.TripFare{}, domain.TicketError{Kind: domain.KindTripClosed, Msg: "trip " + tripID + " closed"}
	case resp.StatusCode != http.StatusOK:
		return models.TripFare{}, unavailable(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var p tripPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return models.TripFare{}, unavailable("decode trip", err)
	}
	if p.ID == "" {
		p.ID = tripID
	}
	return models.TripFare{
		TripID:        p.ID,
		RouteID:       p.RouteID,
		Fare:          p.Fare,
		Currency:      p.Currency,
		DepartureTime: p.DepartureTime,
		Status:        models.TripStatus(strings.ToUpper(strings.TrimSpace(p.Status))),
	}, nil
}

func unavailable(msg string, err error) error {
	return domain.TicketError{Kind: domain.KindCatalogUnavailable, Msg: "trip catalog: " + msg, Err: err}
}
