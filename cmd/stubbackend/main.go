// Package main provides a stub auction backend for exercising the gateway.
// It echoes request details as JSON and can simulate failures, which makes it
// useful for watching circuit breakers trip and recover.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "listings", "service name")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}
	if n := os.Getenv("SERVICE_NAME"); n != "" {
		*name = n
	}

	// Failure injection toggled at runtime:
	//   POST /__fail/on  → every subsequent request returns 500
	//   POST /__fail/off → back to normal
	var failing atomic.Bool

	http.HandleFunc("/__fail/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/__fail/") {
		case "on":
			failing.Store(true)
		case "off":
			failing.Store(false)
		default:
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "failing=%v\n", failing.Load())
	})

	// /__status/{code} returns an arbitrary HTTP status code, for testing
	// the gateway's 4xx pass-through and 5xx breaker accounting.
	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		codeStr := strings.TrimPrefix(r.URL.Path, "/__status/")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"service":        *name,
			"requested_code": code,
			"message":        http.StatusText(code),
		})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{
				"service": *name,
				"error":   "simulated failure",
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service":     *name,
			"method":      r.Method,
			"path":        r.URL.Path,
			"query":       r.URL.RawQuery,
			"headers":     flattenHeaders(r.Header),
			"remote_addr": r.RemoteAddr,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s", *name, addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 1 {
			flat[k] = v[0]
		} else {
			b, _ := json.Marshal(v)
			flat[k] = string(b)
		}
	}
	return flat
}
