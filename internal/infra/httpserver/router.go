package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appreview "github.com/codesentry/codesentry/internal/application/review"
	"github.com/codesentry/codesentry/internal/middleware"
)

// maxWebhookBody caps how much of a delivery we read. GitHub caps payloads
// at 25 MB; anything near that is not a PR event we care about.
const maxWebhookBody = 2 << 20

// Options wires the router.
type Options struct {
	Service        *appreview.Service
	WebhookSecret  []byte
	AdminKey       string
	AllowedOrigins []string
	WebhookRPS     float64
	WebhookBurst   int
	Health         map[string]middleware.HealthChecker
	Log            *slog.Logger

	// Dispatch runs event handlers in the background. Defaults to one
	// goroutine per event; tests swap in a synchronous runner.
	Dispatch func(func())
}

type Router struct {
	svc      *appreview.Service
	secret   []byte
	log      *slog.Logger
	dispatch func(func())
}

func New(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	dispatch := opts.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { go fn() }
	}
	if len(opts.WebhookSecret) == 0 {
		log.Warn("webhook secret not configured, signature verification disabled")
	}
	rt := &Router{svc: opts.Service, secret: opts.WebhookSecret, log: log, dispatch: dispatch}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestLogger(log))
	mux.Use(middleware.Metrics)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Key", "Authorization"},
		}))
	}

	mux.Group(func(r chi.Router) {
		if opts.WebhookRPS > 0 {
			r.Use(middleware.PerClientLimit(opts.WebhookRPS, opts.WebhookBurst))
		}
		r.Post("/webhook", rt.handleWebhook)
	})

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Handle("/metrics", promhttp.Handler())

	mux.Group(func(r chi.Router) {
		r.Use(middleware.AdminKey(opts.AdminKey))
		r.Get("/stats", rt.handleStats)
		r.Get("/errors", rt.handleErrors)
	})

	return mux
}

// Consumed webhook payload slices. Pointers distinguish a missing section
// from a zero one.
type prPayload struct {
	Action      string `json:"action"`
	PullRequest *struct {
		Number int `json:"number"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

type commentPayload struct {
	Action string `json:"action"`
	Issue  *struct {
		Number      int              `json:"number"`
		PullRequest *json.RawMessage `json:"pull_request"`
	} `json:"issue"`
	Comment *struct {
		Body string `json:"body"`
		User struct {
			Type string `json:"type"`
		} `json:"user"`
	} `json:"comment"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "unreadable payload"})
		return
	}

	if !rt.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		rt.log.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid signature"})
		return
	}

	switch event := r.Header.Get("X-GitHub-Event"); event {
	case "pull_request":
		rt.handlePullRequestEvent(w, body)
	case "issue_comment":
		rt.handleCommentEvent(w, body)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": event})
	}
}

func (rt *Router) handlePullRequestEvent(w http.ResponseWriter, body []byte) {
	var p prPayload
	if err := json.Unmarshal(body, &p); err != nil {
		malformed(w)
		return
	}
	if p.Action != "opened" && p.Action != "synchronize" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": p.Action})
		return
	}
	if p.PullRequest == nil || p.Repository == nil || p.Installation == nil {
		malformed(w)
		return
	}
	ev := appreview.PullRequestEvent{
		InstallationID: p.Installation.ID,
		RepoFullName:   p.Repository.FullName,
		PRNumber:       p.PullRequest.Number,
		HeadSHA:        strings.ToLower(p.PullRequest.Head.SHA),
		Action:         p.Action,
	}
	if middleware.ValidateRepoFullName(ev.RepoFullName) != nil ||
		middleware.ValidatePRNumber(ev.PRNumber) != nil ||
		middleware.ValidateSHA(ev.HeadSHA) != nil ||
		middleware.ValidateInstallationID(ev.InstallationID) != nil {
		malformed(w)
		return
	}

	middleware.WebhookEvents.WithLabelValues("pull_request", p.Action).Inc()
	rt.dispatch(func() { rt.svc.HandlePullRequestUntilDone(ev) })
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (rt *Router) handleCommentEvent(w http.ResponseWriter, body []byte) {
	var p commentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		malformed(w)
		return
	}
	if p.Action != "created" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": p.Action})
		return
	}
	if p.Issue == nil || p.Comment == nil || p.Repository == nil || p.Installation == nil {
		malformed(w)
		return
	}
	// Only replies on pull requests carry dismiss commands.
	if p.Issue.PullRequest == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": "issue comment"})
		return
	}
	ev := appreview.CommentEvent{
		InstallationID: p.Installation.ID,
		RepoFullName:   p.Repository.FullName,
		PRNumber:       p.Issue.Number,
		Body:           p.Comment.Body,
		AuthorIsBot:    p.Comment.User.Type == "Bot",
	}
	if middleware.ValidateRepoFullName(ev.RepoFullName) != nil ||
		middleware.ValidatePRNumber(ev.PRNumber) != nil ||
		middleware.ValidateInstallationID(ev.InstallationID) != nil {
		malformed(w)
		return
	}

	middleware.WebhookEvents.WithLabelValues("issue_comment", p.Action).Inc()
	rt.dispatch(func() { rt.svc.HandleDismissUntilDone(ev) })
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.Stats(r.Context())
	if err != nil {
		rt.log.Error("load cost stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := rt.svc.RecentErrors(r.Context(), middleware.ClampLimit(limit))
	if err != nil {
		rt.log.Error("load run errors", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "errors unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": entries})
}

// verifySignature checks the HMAC-SHA256 delivery signature. An absent
// secret disables verification.
func (rt *Router) verifySignature(body []byte, header string) bool {
	if len(rt.secret) == 0 {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	presented, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, rt.secret)
	mac.Write(body)
	return hmac.Equal(presented, mac.Sum(nil))
}

func malformed(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "malformed payload"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
