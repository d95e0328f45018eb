package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the Hebcal REST API (holiday calendar and zmanim). All
// calls carry the configured timeout; the engine above decides what a
// failure means.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Hebcal client rooted at baseURL (no trailing slash).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type hebcalItem struct {
	Date     string `json:"date"`
	Category string `json:"category"`
	Title    string `json:"title"`
}

type hebcalResponse struct {
	Items []hebcalItem `json:"items"`
}

// suppressing lists the Hebcal event categories on which reminders are
// suppressed (the categories on which tefillin are not laid).
var suppressing = map[string]bool{
	"major":       true,
	"modern":      true,
	"roshchodesh": true,
}

// Holidays returns the set of suppressed dates (YYYY-MM-DD) in the given
// year for the given geoname id.
func (c *Client) Holidays(ctx context.Context, year, geonameID int) (map[string]bool, error) {
	q := url.Values{}
	q.Set("v", "1")
	q.Set("cfg", "json")
	q.Set("maj", "on")
	q.Set("min", "on")
	q.Set("mod", "on")
	q.Set("nx", "on")
	q.Set("year", strconv.Itoa(year))
	q.Set("month", "x")
	q.Set("geo", "geoname")
	q.Set("geonameid", strconv.Itoa(geonameID))

	var resp hebcalResponse
	if err := c.getJSON(ctx, "/hebcal?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	dates := make(map[string]bool)
	for _, item := range resp.Items {
		if suppressing[item.Category] {
			// Event dates may carry a time component; the civil date
			// is the first 10 bytes.
			d := item.Date
			if len(d) > 10 {
				d = d[:10]
			}
			dates[d] = true
		}
	}
	return dates, nil
}

type zmanimResponse struct {
	Times struct {
		Sunset string `json:"sunset"`
	} `json:"times"`
}

// Sunset returns the sunset instant for the given civil date (YYYY-MM-DD)
// at the given geoname id.
func (c *Client) Sunset(ctx context.Context, date string, geonameID int) (time.Time, error) {
	q := url.Values{}
	q.Set("cfg", "json")
	q.Set("geonameid", strconv.Itoa(geonameID))
	q.Set("date", date)

	var resp zmanimResponse
	if err := c.getJSON(ctx, "/zmanim?"+q.Encode(), &resp); err != nil {
		return time.Time{}, err
	}
	if resp.Times.Sunset == "" {
		return time.Time{}, fmt.Errorf("zmanim: no sunset for %s", date)
	}
	t, err := time.Parse(time.RFC3339, resp.Times.Sunset)
	if err != nil {
		return time.Time{}, fmt.Errorf("zmanim: parse sunset %q: %w", resp.Times.Sunset, err)
	}
	return t, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("hebcal: unexpected status %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("hebcal: decode: %w", err)
	}
	return nil
}
