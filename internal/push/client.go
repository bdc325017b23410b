// Package push sends FCM HTTP v1 messages for the timer-reminder pushes
// (66%/33% remaining), authenticating via a Google service-account
// JWT-bearer OAuth2 grant rather than a legacy server key.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/afterword/heartbeat/internal/retryhttp"
)

// unregisteredErrorSubstrings are the FCM error strings that indicate a
// device token is permanently dead and should be removed rather than
// retried.
var unregisteredErrorSubstrings = []string{
	"UNREGISTERED",
	"registration-token-not-registered",
	"invalid registration token",
	"requested entity was not found",
}

// fcmEndpoint is a %s-templated URL (projectID), a package variable so
// tests can point it at an httptest server.
var fcmEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

// Client sends FCM HTTP v1 messages for a single Firebase project.
type Client struct {
	projectID string
	tokens    *TokenCache
	http      *retryhttp.Client
}

// New creates a Client for the given Firebase project, sharing the token
// cache and retry client with the rest of the cycle.
func New(projectID string, tokens *TokenCache, http *retryhttp.Client) *Client {
	return &Client{projectID: projectID, tokens: tokens, http: http}
}

// Outcome reports what happened when sending to a single device token.
type Outcome struct {
	// Unregistered is true when the provider reported the token as dead;
	// the caller should delete the device row.
	Unregistered bool
}

type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token        string            `json:"token"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmErrorBody struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
			Reason    string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// Send delivers a single notification to deviceToken. On a 401/403, it
// force-refreshes the cached OAuth2 token and retries exactly once. If the
// provider reports the token as permanently invalid, Outcome.Unregistered
// is set and err is nil: the caller prunes the device row rather than
// treating this as a failure.
func (c *Client) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) (Outcome, error) {
	payload, err := json.Marshal(sendRequest{
		Message: message{
			Token:        deviceToken,
			Notification: notification{Title: title, Body: body},
			Data:         data,
		},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("encode FCM message: %w", err)
	}

	resp, err := c.doSend(ctx, payload, false)
	if err != nil {
		return Outcome{}, err
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		resp, err = c.doSend(ctx, payload, true)
		if err != nil {
			return Outcome{}, err
		}
	}

	if resp.StatusCode == 200 {
		return Outcome{}, nil
	}

	if isUnregistered(resp.Body) {
		return Outcome{Unregistered: true}, nil
	}

	return Outcome{}, fmt.Errorf("fcm send returned status %d: %s", resp.StatusCode, resp.Body)
}

func (c *Client) doSend(ctx context.Context, payload []byte, forceRefresh bool) (*retryhttp.Response, error) {
	var (
		token string
		err   error
	)
	if forceRefresh {
		token, err = c.tokens.ForceRefresh(ctx)
	} else {
		token, err = c.tokens.Token(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get FCM access token: %w", err)
	}

	url := fmt.Sprintf(fcmEndpoint, c.projectID)
	resp, err := c.http.PostJSON(ctx, url, payload, "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return nil, fmt.Errorf("send FCM message: %w", err)
	}
	return resp, nil
}

func isUnregistered(body []byte) bool {
	var parsed fcmErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, d := range parsed.Error.Details {
			if strings.Contains(d.ErrorCode, "UNREGISTERED") || strings.Contains(d.Reason, "UNREGISTERED") {
				return true
			}
		}
	}
	lower := strings.ToLower(string(body))
	for _, substr := range unregisteredErrorSubstrings {
		if strings.Contains(lower, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}
