package dispatch

import (
	"encoding/json"
	"regexp"
	"strings"

	"studybuddy/internal/apperr"
)

// demoUserHeader lets demo deployments act as a chosen user.
const demoUserHeader = "X-Gurt-Demo-User-Id"

var demoUserPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,128}$`)

type envelopeHTTP struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type envelopeIdentity struct {
	UserARN string `json:"userArn"`
}

type envelopeContext struct {
	Stage      string           `json:"stage"`
	HTTP       envelopeHTTP     `json:"http"`
	Authorizer map[string]any   `json:"authorizer"`
	Identity   envelopeIdentity `json:"identity"`
}

// envelope accepts both API Gateway proxy payload shapes plus the
// EventBridge scheduled-event shape.
type envelope struct {
	HTTPMethod            string            `json:"httpMethod"`
	Path                  string            `json:"path"`
	RawPath               string            `json:"rawPath"`
	Headers               map[string]string `json:"headers"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	PathParameters        map[string]string `json:"pathParameters"`
	Body                  any               `json:"body"`
	RequestContext        envelopeContext   `json:"requestContext"`
	Source                string            `json:"source"`
	DetailType            string            `json:"detail-type"`
}

func (e *envelope) scheduled() bool {
	return e.Source == "aws.events" && e.DetailType == "Scheduled Event"
}

func (e *envelope) method() string {
	if m := e.RequestContext.HTTP.Method; m != "" {
		return strings.ToUpper(m)
	}
	return strings.ToUpper(e.HTTPMethod)
}

// path strips a single stage prefix when the request context names one.
func (e *envelope) path() string {
	path := e.RawPath
	if path == "" {
		path = e.Path
	}
	if path == "" {
		path = "/"
	}

	stage := strings.TrimSpace(e.RequestContext.Stage)
	if stage == "" {
		return path
	}
	prefix := "/" + stage
	if path == prefix {
		return "/"
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):]
	}
	return path
}

func (e *envelope) header(name string) string {
	for key, value := range e.Headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (e *envelope) query(name string) string {
	return strings.TrimSpace(e.QueryStringParameters[name])
}

func (e *envelope) pathParam(name string) string {
	return strings.TrimSpace(e.PathParameters[name])
}

func nestedSub(raw any, keys ...string) string {
	node := raw
	for _, key := range keys {
		m, ok := node.(map[string]any)
		if !ok {
			return ""
		}
		node = m[key]
	}
	s, _ := node.(string)
	return strings.TrimSpace(s)
}

// principal resolves the caller identity: authorizer principalId, then
// Cognito claims, then JWT claims, then the IAM caller ARN. Demo mode
// falls back to the configured user, overridable per request by header.
func (e *envelope) principal(demoMode bool, demoUserID string) string {
	auth := e.RequestContext.Authorizer
	if id := nestedSub(auth, "principalId"); id != "" {
		return id
	}
	if id := nestedSub(auth, "claims", "sub"); id != "" {
		return id
	}
	if id := nestedSub(auth, "jwt", "claims", "sub"); id != "" {
		return id
	}
	if arn := strings.TrimSpace(e.RequestContext.Identity.UserARN); arn != "" {
		return arn
	}
	if !demoMode {
		return ""
	}
	if override := e.header(demoUserHeader); override != "" && demoUserPattern.MatchString(override) {
		return override
	}
	return demoUserID
}

// decodeBody parses the request body into out. The body arrives either
// as a JSON string or already decoded; anything but an object is a 400.
// An absent body decodes as an empty object.
func (e *envelope) decodeBody(out any) error {
	var object map[string]any
	switch body := e.Body.(type) {
	case nil:
		object = map[string]any{}
	case string:
		if strings.TrimSpace(body) == "" {
			object = map[string]any{}
			break
		}
		var decoded any
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			return apperr.NewValidation("request body must be valid JSON")
		}
		var ok bool
		if object, ok = decoded.(map[string]any); !ok {
			return apperr.NewValidation("request body must be a JSON object")
		}
	case map[string]any:
		object = body
	default:
		return apperr.NewValidation("request body must be a JSON object")
	}
	if object == nil {
		return apperr.NewValidation("request body must be a JSON object")
	}

	raw, err := json.Marshal(object)
	if err != nil {
		return apperr.NewValidation("request body must be a JSON object")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.NewValidation("request body has invalid field types")
	}
	return nil
}
