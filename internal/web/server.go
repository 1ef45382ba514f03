// Package web exposes a read-only HTTP status surface over the rule
// collection and the execution journal.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/stackerapp/stacker/internal/domain"
	"github.com/stackerapp/stacker/internal/storage/journal"
)

const executionPollInterval = 2 * time.Second

type ruleReader interface {
	Rules() []domain.Rule
	ActiveRules() []domain.Rule
	DueRules(now time.Time) []domain.Rule
}

type executionReader interface {
	ExecutionsAfter(index uint64) ([]journal.ExecutionRecord, error)
}

// Server serves rule listings as JSON and execution events as an SSE stream.
type Server struct {
	Addr       string
	Rules      ruleReader
	Executions executionReader
}

// NewServer creates a status server instance.
func NewServer(addr string, rules ruleReader, executions executionReader) *Server {
	return &Server{Addr: addr, Rules: rules, Executions: executions}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rules", s.handleRules)
	mux.HandleFunc("/rules/active", s.handleActiveRules)
	mux.HandleFunc("/rules/due", s.handleDueRules)
	mux.HandleFunc("/executions/stream", s.handleExecutionStream)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ruleView decorates a rule with its display cadence.
type ruleView struct {
	domain.Rule
	Cadence string `json:"cadence"`
}

func viewsOf(rules []domain.Rule) []ruleView {
	views := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, ruleView{Rule: r, Cadence: domain.DescribeCadence(r)})
	}
	return views
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	s.writeRules(w, s.Rules.Rules())
}

func (s *Server) handleActiveRules(w http.ResponseWriter, r *http.Request) {
	s.writeRules(w, s.Rules.ActiveRules())
}

func (s *Server) handleDueRules(w http.ResponseWriter, r *http.Request) {
	s.writeRules(w, s.Rules.DueRules(time.Now()))
}

func (s *Server) writeRules(w http.ResponseWriter, rules []domain.Rule) {
	if s.Rules == nil {
		http.Error(w, "rule collection not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(viewsOf(rules)); err != nil {
		log.Printf("encode rules: %v", err)
	}
}

func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	if s.Executions == nil {
		http.Error(w, "execution journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat every 30s so proxies keep the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(executionPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendExecutions := func() error {
		records, err := s.Executions.ExecutionsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: execution\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendExecutions(); err != nil {
		http.Error(w, "failed to load executions", http.StatusInternalServerError)
		log.Printf("execution stream initial load: %v", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendExecutions(); err != nil {
				log.Printf("execution stream poll err: %v", err)
			}
		}
	}
}
