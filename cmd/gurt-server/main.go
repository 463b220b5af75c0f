// gurt-server runs the API locally by adapting plain HTTP requests onto
// the Lambda envelope the dispatcher consumes.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"studybuddy/internal/bootstrap"
)

func envelopeFor(r *http.Request) ([]byte, error) {
	headers := map[string]string{}
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	query := map[string]string{}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	event := map[string]any{
		"httpMethod":            r.Method,
		"path":                  r.URL.Path,
		"headers":               headers,
		"queryStringParameters": query,
	}
	if len(body) > 0 {
		event["body"] = string(body)
	}
	return json.Marshal(event)
}

func main() {
	app, err := bootstrap.Build(context.Background(), "server")
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		raw, err := envelopeFor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := app.Handler.Handle(r.Context(), raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write([]byte(resp.Body))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	app.Log.Info("listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}
