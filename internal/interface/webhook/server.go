// Package webhook exposes the HTTP trigger surface: a health endpoint and a
// GitHub webhook receiver that dispatches workflow invocations. Events for
// the same (repository, issue) pair are serialized through a per-key mutex;
// distinct pairs run concurrently.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
)

// Runner is the top-level workflow operation the server dispatches to.
type Runner func(ctx context.Context, repo string, issue int) bool

// branchPrefix is the head-branch naming scheme that ties a PR back to its
// issue.
const branchPrefix = "agent/issue-"

var issueActions = map[string]bool{
	"opened":   true,
	"edited":   true,
	"labeled":  true,
	"reopened": true,
}

var pullActions = map[string]bool{
	"opened":           true,
	"synchronize":      true,
	"reopened":         true,
	"ready_for_review": true,
}

// Server receives GitHub webhook deliveries and triggers workflow runs.
type Server struct {
	cfg config.Config
	run Runner
	log app.Logger

	mu   sync.Mutex
	keys map[string]*sync.Mutex
	wg   sync.WaitGroup
}

// NewServer wires the receiver to the workflow runner.
func NewServer(cfg config.Config, run Runner, log app.Logger) *Server {
	return &Server{
		cfg:  cfg,
		run:  run,
		log:  log,
		keys: map[string]*sync.Mutex{},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /webhook/github", s.handleWebhook)
	return mux
}

// ListenAndServe blocks serving webhooks until ctx is cancelled, then shuts
// down gracefully and waits for in-flight workflow runs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("webhook server listening on %s", s.cfg.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

// Wait blocks until all dispatched workflow runs have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !verifySignature(s.cfg.WebhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
			return
		}
	} else {
		s.log.Warn("webhook secret is not configured; skipping signature verification")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	switch event := r.Header.Get("X-GitHub-Event"); event {
	case "issues":
		if s.shouldProcessIssue(&payload) {
			s.dispatch(payload.Repository.FullName, payload.Issue.Number)
		}
	case "pull_request":
		if pullActions[payload.Action] {
			if issue := issueFromBranch(payload.PullRequest.Head.Ref); issue != 0 {
				s.dispatch(payload.Repository.FullName, issue)
			}
		}
	case "workflow_run":
		if payload.Action == "completed" {
			for _, pr := range payload.WorkflowRun.PullRequests {
				if issue := issueFromBranch(pr.Head.Ref); issue != 0 {
					s.dispatch(payload.Repository.FullName, issue)
				}
			}
		}
	default:
		s.log.Debug("ignoring webhook event %q", event)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) shouldProcessIssue(payload *webhookPayload) bool {
	if !issueActions[payload.Action] {
		return false
	}
	for _, label := range payload.Issue.Labels {
		if label.Name == s.cfg.TriggerLabel {
			return true
		}
	}
	return false
}

// dispatch runs the workflow on its own goroutine, serialized per
// (repository, issue) key.
func (s *Server) dispatch(repo string, issue int) {
	if repo == "" || issue == 0 {
		return
	}
	key := fmt.Sprintf("%s#%d", repo, issue)
	s.log.Info("dispatching workflow for %s", key)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		mu := s.keyMutex(key)
		mu.Lock()
		defer mu.Unlock()
		s.run(context.Background(), repo, issue)
	}()
}

func (s *Server) keyMutex(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keys[key] = mu
	}
	return mu
}

// verifySignature checks the X-Hub-Signature-256 HMAC in constant time.
func verifySignature(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// issueFromBranch extracts the issue number from an "agent/issue-N" head
// branch, or 0 when the branch does not follow the scheme.
func issueFromBranch(ref string) int {
	rest, ok := strings.CutPrefix(ref, branchPrefix)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type webhookPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue struct {
		Number int `json:"number"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	WorkflowRun struct {
		PullRequests []struct {
			Number int `json:"number"`
			Head   struct {
				Ref string `json:"ref"`
			} `json:"head"`
		} `json:"pull_requests"`
	} `json:"workflow_run"`
}
