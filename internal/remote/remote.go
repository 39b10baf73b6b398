// Package remote is a thin HTTP client for the three Calendar API surfaces
// spec.md §6 names: paginated event listing, the batch endpoint, and
// revocation. No generated SDK for this surface exists anywhere in the
// pack, so this client is hand-written net/http in the teacher's wrapper-
// struct-plus-fmt.Errorf idiom (internal/stripe/client.go).
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com"
	DefaultBatchURL = "https://www.googleapis.com/batch/calendar/v3"
)

// Client talks to the calendar surfaces on behalf of one authenticated
// user. TokenFn supplies a fresh bearer token per call.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	BatchURL   string
	TokenFn    func(ctx context.Context) (string, error)
}

// New builds a Client with the production defaults.
func New(tokenFn func(ctx context.Context) (string, error)) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		BaseURL:    DefaultBaseURL,
		BatchURL:   DefaultBatchURL,
		TokenFn:    tokenFn,
	}
}

type eventListPage struct {
	Items         []rawEvent `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

type rawEvent struct {
	ID                  string                    `json:"id"`
	Status              string                    `json:"status"`
	Summary             string                    `json:"summary"`
	Description         string                    `json:"description"`
	Start               rawDateOrTime             `json:"start"`
	End                 rawDateOrTime             `json:"end"`
	Recurrence          []string                  `json:"recurrence"`
	Updated             string                    `json:"updated"`
	ExtendedProperties  *rawExtendedProperties    `json:"extendedProperties"`
}

type rawDateOrTime struct {
	Date     string `json:"date"`
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type rawExtendedProperties struct {
	Private map[string]string `json:"private"`
}

// ListPluginOwnedEvents fetches every event on calendarID carrying
// isGcalSync=true, paging through nextPageToken automatically
// (spec.md §6).
func (c *Client) ListPluginOwnedEvents(ctx context.Context, calendarID string) ([]model.RemoteEvent, error) {
	var all []model.RemoteEvent
	pageToken := ""

	for {
		v := url.Values{}
		v.Set("privateExtendedProperty", "isGcalSync=true")
		v.Set("showDeleted", "false")
		v.Set("maxResults", "250")
		v.Set("singleEvents", "false")
		if pageToken != "" {
			v.Set("pageToken", pageToken)
		}

		endpoint := fmt.Sprintf("%s/calendar/v3/calendars/%s/events?%s", c.BaseURL, url.PathEscape(calendarID), v.Encode())

		var page eventListPage
		if err := c.getJSON(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("remote: listing events: %w", err)
		}

		for _, re := range page.Items {
			all = append(all, toModelEvent(re))
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return all, nil
}

func toModelEvent(re rawEvent) model.RemoteEvent {
	ev := model.RemoteEvent{
		ID:          re.ID,
		Status:      re.Status,
		Summary:     re.Summary,
		Description: re.Description,
		Start:       model.EventDateOrTime(re.Start),
		End:         model.EventDateOrTime(re.End),
		Recurrence:  re.Recurrence,
		Private:     map[string]string{},
	}
	if re.ExtendedProperties != nil {
		ev.Private = re.ExtendedProperties.Private
	}
	if t, err := parseUpdated(re.Updated); err == nil {
		ev.Updated = t
	}
	return ev
}

// PostBatch implements batch.Transport against the real batch endpoint.
func (c *Client) PostBatch(ctx context.Context, boundary string, body []byte) (int, []byte, error) {
	token, err := c.TokenFn(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("remote: obtaining access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BatchURL, newBodyReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+boundary)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// Revoke hits the revocation endpoint for the given refresh token.
func (c *Client) Revoke(ctx context.Context, revocationURL, token string) error {
	v := url.Values{}
	v.Set("token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revocationURL, newBodyReaderString(v.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("remote: revoking token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote: revocation endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	token, err := c.TokenFn(ctx)
	if err != nil {
		return fmt.Errorf("obtaining access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("calendar API returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
