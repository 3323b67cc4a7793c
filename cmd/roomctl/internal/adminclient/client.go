// Package adminclient is a thin HTTP client for the control plane's admin
// API, speaking msgpack over HTTP as its default wire encoding.
package adminclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type RoomSummary struct {
	RoomID    string `msgpack:"RoomID"`
	PeerCount int    `msgpack:"PeerCount"`
}

type PeerSnapshot struct {
	PeerID     string   `msgpack:"PeerID"`
	Transports []string `msgpack:"Transports"`
	Producers  []string `msgpack:"Producers"`
	Consumers  []string `msgpack:"Consumers"`
}

type RoomDetail struct {
	RoomID    string         `msgpack:"RoomID"`
	CreatedAt time.Time      `msgpack:"CreatedAt"`
	Peers     []PeerSnapshot `msgpack:"Peers"`
}

// Client is deliberately minimal: one bearer token, one base URL, msgpack
// in and out.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/msgpack")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin API %s %s: %s: %s", method, path, resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(body, out)
}

func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	var out []RoomSummary
	if err := c.do(ctx, http.MethodGet, "/admin/rooms", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RoomDetail(ctx context.Context, roomID string) (*RoomDetail, error) {
	var out RoomDetail
	if err := c.do(ctx, http.MethodGet, "/admin/rooms/"+roomID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EvictPeer(ctx context.Context, roomID, peerID string) error {
	return c.do(ctx, http.MethodPost, "/admin/rooms/"+roomID+"/peers/"+peerID+"/evict", nil)
}
