// handlers/web/results.go
package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailtriage/internal/handoff"
	"mailtriage/internal/logging"
	"mailtriage/internal/triage"
	"mailtriage/models"
)

// resultRow is one rendered search hit with the token its actions carry.
type resultRow struct {
	Email   models.EmailSummary
	Token   string
	Actions []models.Action
}

// ShowResults renders the caller's last committed search.
func (h *TriageHandler) ShowResults(c *fiber.Ctx) error {
	sess, owner, err := h.session(c)
	if err != nil {
		return err
	}
	flash := popFlash(sess)
	if err := sess.Save(); err != nil {
		return err
	}

	page, err := h.service.Results(owner)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not load results")
	}

	rows := make([]resultRow, 0, len(page.Items))
	for _, email := range page.Items {
		token, err := h.tokens.Sign(owner, email.ID, page.Seq)
		if err != nil {
			h.logger.Error("failed to sign row token", logging.EmailID(email.ID), logging.Err(err))
			return err
		}
		rows = append(rows, resultRow{Email: email, Token: token, Actions: models.Actions})
	}

	return c.Render("results", view("Results", flash, fiber.Map{
		"Page": page,
		"Rows": rows,
	}))
}

// RawResults returns the stored search body exactly as the backend sent it.
func (h *TriageHandler) RawResults(c *fiber.Ctx) error {
	sess, owner, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.Save(); err != nil {
		return err
	}

	raw, err := h.service.Raw(owner)
	if errors.Is(err, handoff.ErrNoSlot) {
		return fiber.NewError(fiber.StatusNotFound, triage.MsgNoResults)
	}
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}
