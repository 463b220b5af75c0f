package lmssync

import (
	"context"
	"strings"
	"time"

	"studybuddy/internal/apperr"
	"studybuddy/internal/canvas"
	"studybuddy/internal/logging"
	"studybuddy/internal/models"
	"studybuddy/internal/timez"
)

// ConnectRequest is the POST /lms/connect payload.
type ConnectRequest struct {
	CanvasBaseURL string `json:"canvasBaseUrl"`
	AccessToken   string `json:"accessToken"`
}

// ConnectResponse acknowledges a verified connection.
type ConnectResponse struct {
	Connected    bool   `json:"connected"`
	CanvasUserID string `json:"canvasUserId"`
}

// Connector verifies Canvas credentials and stores the connection record.
type Connector struct {
	store     *Store
	newClient ClientFactory
	log       logging.Logger
	now       func() time.Time
}

// NewConnector wires a Connector. factory may be nil to use the real
// Canvas client with the given user agent.
func NewConnector(store *Store, userAgent string, factory ClientFactory, log logging.Logger, now func() time.Time) *Connector {
	if factory == nil {
		factory = func(baseURL, token string) LMSClient {
			return canvas.NewClient(baseURL, token, userAgent, canvas.WithLogger(log))
		}
	}
	if now == nil {
		now = time.Now
	}
	return &Connector{store: store, newClient: factory, log: logging.OrNop(log), now: now}
}

// Connect verifies the token against the LMS profile endpoint before
// upserting the per-user connection, so dead tokens never get stored.
func (c *Connector) Connect(ctx context.Context, userID string, req ConnectRequest) (ConnectResponse, error) {
	baseURL := strings.TrimSpace(req.CanvasBaseURL)
	token := strings.TrimSpace(req.AccessToken)
	if baseURL == "" || token == "" {
		return ConnectResponse{}, apperr.NewValidation("'canvasBaseUrl' and 'accessToken' are required")
	}
	baseURL = canvas.NormalizeBaseURL(baseURL)

	client := c.newClient(baseURL, token)
	canvasUserID, err := client.FetchCurrentUserID(ctx)
	if err != nil {
		return ConnectResponse{}, apperr.NewUpstream("LMS credential check", err)
	}

	conn := models.CanvasConnection{
		UserID:        userID,
		CanvasBaseURL: baseURL,
		AccessToken:   token,
		UpdatedAt:     timez.Format(c.now()),
	}
	if err := c.store.PutConnection(ctx, conn); err != nil {
		return ConnectResponse{}, err
	}
	c.log.Info("stored LMS connection for user %s (canvas user %s)", userID, canvasUserID)
	return ConnectResponse{Connected: true, CanvasUserID: canvasUserID}, nil
}
