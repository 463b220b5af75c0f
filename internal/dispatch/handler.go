// Package dispatch routes API Gateway proxy events onto the service
// layer. One handler instance serves every route; scheduled events from
// EventBridge bypass routing and run the sync batch.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"studybuddy/internal/apperr"
	"studybuddy/internal/caltoken"
	"studybuddy/internal/config"
	"studybuddy/internal/fixtures"
	"studybuddy/internal/generation"
	"studybuddy/internal/ingest"
	"studybuddy/internal/lmssync"
	"studybuddy/internal/logging"
	"studybuddy/internal/schedulerhook"
	"studybuddy/internal/study"
	"studybuddy/internal/uploads"
)

// Handler owns the route table.
type Handler struct {
	cfg *config.Config
	log logging.Logger

	canvasData *lmssync.Store
	connector  *lmssync.Connector
	engine     *lmssync.Engine
	batch      *schedulerhook.Batch
	ingestSvc  *ingest.Service
	uploadsSvc *uploads.Service
	studySvc   *study.Service
	gen        *generation.Service
	tokens     *caltoken.Service
	demo       *fixtures.Set
}

// Params wires a Handler.
type Params struct {
	Config     *config.Config
	Log        logging.Logger
	CanvasData *lmssync.Store
	Connector  *lmssync.Connector
	Engine     *lmssync.Engine
	Batch      *schedulerhook.Batch
	Ingest     *ingest.Service
	Uploads    *uploads.Service
	Study      *study.Service
	Generation *generation.Service
	Tokens     *caltoken.Service
	Fixtures   *fixtures.Set
}

// New builds the Handler.
func New(p Params) *Handler {
	return &Handler{
		cfg:        p.Config,
		log:        logging.OrNop(p.Log),
		canvasData: p.CanvasData,
		connector:  p.Connector,
		engine:     p.Engine,
		batch:      p.Batch,
		ingestSvc:  p.Ingest,
		uploadsSvc: p.Uploads,
		studySvc:   p.Study,
		gen:        p.Generation,
		tokens:     p.Tokens,
		demo:       p.Fixtures,
	}
}

func (h *Handler) headers(contentType string) map[string]string {
	return map[string]string{
		"Content-Type":                 contentType,
		"Access-Control-Allow-Origin":  h.cfg.CORSAllowOrigin,
		"Access-Control-Allow-Methods": h.cfg.CORSAllowMethods,
		"Access-Control-Allow-Headers": h.cfg.CORSAllowHeaders,
	}
}

func (h *Handler) respondJSON(status int, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("response serialization failed: %v", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    h.headers("application/json"),
			Body:       `{"error":"response serialization failed"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    h.headers("application/json"),
		Body:       string(body),
	}
}

func (h *Handler) respondText(status int, contentType, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    h.headers(contentType),
		Body:       body,
	}
}

func (h *Handler) respondErr(err error) events.APIGatewayProxyResponse {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed: %v", err)
	}
	return h.respondJSON(status, map[string]string{"error": err.Error()})
}

// liveUnavailable guards store-backed reads in fixture-only deployments:
// outside demo mode a missing canvas data table means the live read path
// was never provisioned.
func (h *Handler) liveUnavailable() bool {
	return !h.cfg.DemoMode && h.cfg.CanvasDataTable == ""
}

func (h *Handler) respondLiveUnavailable() events.APIGatewayProxyResponse {
	return h.respondJSON(http.StatusServiceUnavailable,
		map[string]string{"error": "live mode not provisioned; set DEMO_MODE=true"})
}

// Handle is the Lambda entrypoint for every event shape.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return h.respondErr(apperr.NewValidation("unrecognized event payload")), nil
	}

	if env.scheduled() {
		report, err := h.batch.Run(ctx)
		if err != nil {
			return h.respondErr(err), nil
		}
		return h.respondJSON(http.StatusOK, report), nil
	}

	method, path := env.method(), env.path()
	h.log.Info("%s %s", method, path)
	return h.route(ctx, &env, method, path), nil
}
