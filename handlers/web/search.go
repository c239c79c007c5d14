// handlers/web/search.go
package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailtriage/internal/handoff"
	"mailtriage/internal/triage"
)

// ShowSearch renders the search page.
func (h *TriageHandler) ShowSearch(c *fiber.Ctx) error {
	sess, _, err := h.session(c)
	if err != nil {
		return err
	}
	flash := popFlash(sess)
	if err := sess.Save(); err != nil {
		return err
	}

	return c.Render("search", view("Search", flash, fiber.Map{
		"Keyword":   "",
		"Searching": triage.MsgSearching,
	}))
}

// HandleSearch runs a search and sends the browser to the results page.
func (h *TriageHandler) HandleSearch(c *fiber.Ctx) error {
	sess, owner, err := h.session(c)
	if err != nil {
		return err
	}
	// Persist before the backend call so the cookie, and with it the slot
	// owner, is fixed for this browser.
	if err := sess.Save(); err != nil {
		return err
	}

	keyword := c.FormValue("keyword")
	if _, err := h.service.Search(c.UserContext(), owner, keyword); err != nil {
		msg := triage.StatusFor(triage.OpSearch, err)
		if isHTMX(c) {
			return c.Render("partials/status", fiber.Map{"Status": msg}, "")
		}
		return c.Status(searchErrorStatus(err)).Render("search", view("Search", msg, fiber.Map{
			"Keyword":   keyword,
			"Searching": triage.MsgSearching,
		}))
	}

	if isHTMX(c) {
		c.Set("HX-Redirect", "/results")
		return c.SendString("")
	}
	return c.Redirect("/results", fiber.StatusSeeOther)
}

func searchErrorStatus(err error) int {
	switch {
	case errors.Is(err, triage.ErrEmptyKeyword):
		return fiber.StatusBadRequest
	case errors.Is(err, handoff.ErrSuperseded):
		return fiber.StatusConflict
	default:
		return fiber.StatusBadGateway
	}
}
