// handlers/web/handler.go
package web

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"mailtriage/handlers/api"
	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/internal/triage"
)

const flashKey = "flash"

// TriageHandler serves the search, results and action pages.
type TriageHandler struct {
	service *triage.Service
	store   *session.Store
	tokens  *api.TokenSigner
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

func NewTriageHandler(service *triage.Service, store *session.Store, tokens *api.TokenSigner, metrics *instrumentation.Metrics, logger *slog.Logger) *TriageHandler {
	return &TriageHandler{
		service: service,
		store:   store,
		tokens:  tokens,
		metrics: metrics,
		logger:  logging.WithComponent(logger, "web"),
	}
}

// isHTMX reports whether the request was issued by htmx rather than a
// plain form submission.
func isHTMX(c *fiber.Ctx) bool {
	return c.Get("HX-Request") == "true"
}

// session returns the caller's session and its id. The id owns the
// caller's handoff slot.
func (h *TriageHandler) session(c *fiber.Ctx) (*session.Session, string, error) {
	sess, err := h.store.Get(c)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load session: %w", err)
	}
	return sess, sess.ID(), nil
}

// popFlash returns and clears the one-shot status line left by a redirect.
func popFlash(sess *session.Session) string {
	msg, _ := sess.Get(flashKey).(string)
	if msg != "" {
		sess.Delete(flashKey)
	}
	return msg
}

// view fills the keys the layout reads.
func view(title, status string, bind fiber.Map) fiber.Map {
	out := fiber.Map{"Title": title, "Status": status}
	for k, v := range bind {
		out[k] = v
	}
	return out
}
