// handlers/web/action.go
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/internal/triage"
	"mailtriage/models"
)

// HandleAction applies one action to one row. htmx requests get the status
// fragment (with an out-of-band delete of the row on success); plain form
// posts get a flash message and a redirect back to the results.
func (h *TriageHandler) HandleAction(c *fiber.Ctx) error {
	sess, owner, err := h.session(c)
	if err != nil {
		return err
	}

	token := c.FormValue("token")
	claims, err := h.tokens.Verify(token, owner)
	if err != nil {
		h.logger.Warn("rejected action with invalid row token",
			logging.Owner(owner),
			slog.String("token", logging.SanitizeToken(token)),
			logging.Err(err))
		h.metrics.RecordWorkflow(c.UserContext(), triage.OpAction, instrumentation.ResultRejected)
		return fiber.NewError(fiber.StatusBadRequest, "Invalid or expired action link. Reload the results and try again.")
	}

	action, err := models.ParseAction(c.FormValue("action"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Unknown action")
	}

	status := triage.MsgActionFailed
	removed := false
	result, err := h.service.Act(c.UserContext(), owner, claims.Seq, claims.EmailID, action)
	if err == nil {
		status = result.Result
		removed = true
	}

	if isHTMX(c) {
		if removed {
			// The row, and its status element, is about to go away.
			c.Set("HX-Retarget", "#status-message")
		}
		return c.Render("partials/action", fiber.Map{
			"Status":  status,
			"EmailID": claims.EmailID,
			"Removed": removed,
		}, "")
	}

	sess.Set(flashKey, status)
	if err := sess.Save(); err != nil {
		return err
	}
	return c.Redirect("/results", fiber.StatusSeeOther)
}
