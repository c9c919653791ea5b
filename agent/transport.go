package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"funneltrace/api/models"
)

// maxBeaconBytes mirrors the payload cap browsers put on beacon requests.
const maxBeaconBytes = 64 << 10

var (
	ErrBeaconRejected  = errors.New("beacon payload rejected")
	ErrTransportStatus = errors.New("unexpected response status")
)

// Transport delivers a batch and reports whether the collector accepted it.
type Transport interface {
	Send(ctx context.Context, events []models.TrackRecord) error
}

// BestEffortSender dispatches a batch without waiting for a response. An
// error means the batch could not even be handed off.
type BestEffortSender interface {
	SendBeacon(events []models.TrackRecord) error
}

func encodeBatch(events []models.TrackRecord) ([]byte, error) {
	body, err := json.Marshal(models.TrackRequest{Events: events})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return body, nil
}

// HTTPTransport posts batches as JSON to the collection endpoint.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{Endpoint: endpoint, Client: &http.Client{}}
}

func (t *HTTPTransport) Send(ctx context.Context, events []models.TrackRecord) error {
	body, err := encodeBatch(events)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrTransportStatus, resp.StatusCode)
	}
	return nil
}

// HTTPBeacon fires a POST on its own goroutine and never looks at the
// response, the way a browser beacon outlives the page that sent it.
type HTTPBeacon struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPBeacon(endpoint string) *HTTPBeacon {
	return &HTTPBeacon{Endpoint: endpoint, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (b *HTTPBeacon) SendBeacon(events []models.TrackRecord) error {
	body, err := encodeBatch(events)
	if err != nil {
		return err
	}
	if len(body) > maxBeaconBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrBeaconRejected, len(body), maxBeaconBytes)
	}

	req, err := http.NewRequest(http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBeaconRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := b.Client.Do(req)
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return nil
}
