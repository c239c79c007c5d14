package web_test

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"mailtriage/config"
	"mailtriage/handlers/api"
	"mailtriage/internal/handoff"
	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/internal/server"
	"mailtriage/internal/triage"
	"mailtriage/models"
	"mailtriage/storage"
)

const invoiceBody = `{"keyword":"invoice","results":[{"id":"42","sender":"a@b.com","subject":"Invoice #1"}]}`

// fakeBackend stands in for the email backend service.
type fakeBackend struct {
	mu         sync.Mutex
	searchBody string
	searchCode int
	actionBody string
	actionCode int
	searches   []string
	actions    []models.ActionRequest
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/email/search":
		f.searches = append(f.searches, r.URL.Query().Get("keyword"))
		if f.searchCode != 0 {
			w.WriteHeader(f.searchCode)
		}
		_, _ = io.WriteString(w, f.searchBody)
	case "/email/action":
		var req models.ActionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.actions = append(f.actions, req)
		if f.actionCode != 0 {
			w.WriteHeader(f.actionCode)
		}
		_, _ = io.WriteString(w, f.actionBody)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBackend) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

func (f *fakeBackend) recordedActions() []models.ActionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ActionRequest(nil), f.actions...)
}

type testApp struct {
	app     *fiber.App
	backend *fakeBackend
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *testApp {
	t.Helper()

	backend := &fakeBackend{searchBody: invoiceBody, actionBody: `{"result":"Archived"}`}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL
	cfg.Storage.Directory = filepath.Join(t.TempDir(), "sessions")
	cfg.Server.RateLimit = 0
	for _, m := range mutate {
		m(cfg)
	}

	logger := logging.Discard()

	store, err := storage.NewFileStorage(cfg.Storage.Directory)
	require.NoError(t, err)

	client, err := api.NewClient(cfg.Backend.BaseURL, api.WithTimeout(cfg.Backend.Timeout), api.WithLogger(logger))
	require.NoError(t, err)

	tokens, err := api.NewTokenSigner("test-secret", time.Hour)
	require.NoError(t, err)

	service := triage.New(client, handoff.NewStore(store, cfg.Storage.Expiration), triage.WithLogger(logger))

	app := server.New(server.Options{
		Config:  cfg,
		Service: service,
		Tokens:  tokens,
		Storage: store,
		Logger:  logger,
	})
	return &testApp{app: app, backend: backend}
}

// browser carries the session cookie across requests.
type browser struct {
	t      *testing.T
	app    *fiber.App
	cookie *http.Cookie
}

func (ta *testApp) browser(t *testing.T) *browser {
	return &browser{t: t, app: ta.app}
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	resp, err := b.app.Test(req, -1)
	require.NoError(b.t, err)
	for _, c := range resp.Cookies() {
		if c.Name == server.SessionCookie {
			b.cookie = c
		}
	}
	return resp
}

func (b *browser) get(path string) *http.Response {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) post(path string, form url.Values, htmx bool) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return b.do(req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func parse(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func byID(n *html.Node, id string) *html.Node {
	nodes := findAll(n, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "id") == id
	})
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func byClass(n *html.Node, class string) []*html.Node {
	return findAll(n, func(n *html.Node) bool {
		return n.Type == html.ElementNode && strings.Contains(" "+attr(n, "class")+" ", " "+class+" ")
	})
}

func byTag(n *html.Node, tag string) []*html.Node {
	return findAll(n, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	})
}

func text(n *html.Node) string {
	var sb strings.Builder
	for _, t := range findAll(n, func(n *html.Node) bool { return n.Type == html.TextNode }) {
		sb.WriteString(t.Data)
	}
	return strings.TrimSpace(sb.String())
}

// rowTokens returns the action token of every rendered row by email id.
func rowTokens(t *testing.T, doc *html.Node) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, li := range byClass(doc, "email-row") {
		id := strings.TrimPrefix(attr(li, "id"), "email-")
		for _, in := range byTag(li, "input") {
			if attr(in, "name") == "token" {
				out[id] = attr(in, "value")
			}
		}
	}
	return out
}

func TestSearchPage(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)

	resp := b.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, b.cookie, "session cookie must be set")
	assert.True(t, b.cookie.HttpOnly)

	doc := parse(t, readBody(t, resp))
	input := byID(doc, "keywordInput")
	require.NotNil(t, input)
	assert.Equal(t, "keyword", attr(input, "name"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestEmptyKeyword(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)

	for _, kw := range []string{"", "   ", "\t"} {
		resp := b.post("/search", url.Values{"keyword": {kw}}, false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		doc := parse(t, readBody(t, resp))
		assert.Equal(t, triage.MsgEmptyKeyword, text(byID(doc, "status-message")))

		resp = b.post("/search", url.Values{"keyword": {kw}}, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, triage.MsgEmptyKeyword, strings.TrimSpace(readBody(t, resp)))
	}

	assert.Zero(t, ta.backend.searchCount())
}

func TestResultsWithoutSearch(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)

	resp := b.get("/results")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	doc := parse(t, readBody(t, resp))
	assert.Equal(t, triage.MsgNoResults, text(byClass(doc, "placeholder")[0]))
	assert.Empty(t, byClass(doc, "email-row"))

	resp = b.get("/results.json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvoiceScenario(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)

	resp := b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/results", resp.Header.Get("Location"))
	assert.Equal(t, []string{"invoice"}, ta.backend.searches)

	resp = b.get("/results.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, invoiceBody, readBody(t, resp))

	resp = b.get("/results")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := parse(t, readBody(t, resp))

	headings := byTag(doc, "h2")
	require.Len(t, headings, 1)
	assert.Equal(t, `Results for "invoice"`, text(headings[0]))

	row := byID(doc, "email-42")
	require.NotNil(t, row)
	assert.Equal(t, "a@b.com", text(byClass(row, "sender")[0]))
	assert.Equal(t, "Invoice #1", text(byClass(row, "subject")[0]))

	var labels []string
	for _, btn := range byTag(row, "button") {
		labels = append(labels, text(btn))
	}
	assert.Equal(t, []string{"Trash", "Archive", "Dry Run"}, labels)
	assert.Len(t, byClass(row, "row-status"), 1)

	token := rowTokens(t, doc)["42"]
	require.NotEmpty(t, token)

	resp = b.post("/action", url.Values{"token": {token}, "action": {"archive"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "#status-message", resp.Header.Get("HX-Retarget"))
	body := readBody(t, resp)
	assert.True(t, strings.HasPrefix(body, "Archived<li "), "status text must be swapped in verbatim: %q", body)
	fragment := parse(t, body)
	assert.Contains(t, text(fragment), "Archived")
	oob := byID(fragment, "email-42")
	require.NotNil(t, oob)
	assert.Equal(t, "delete", attr(oob, "hx-swap-oob"))

	assert.Equal(t, []models.ActionRequest{{EmailIDs: []string{"42"}, Action: models.ActionArchive}}, ta.backend.recordedActions())

	// The row stays gone on reload.
	resp = b.get("/results")
	doc = parse(t, readBody(t, resp))
	assert.Nil(t, byID(doc, "email-42"))
}

func TestHTMXSearchRedirects(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)

	resp := b.post("/search", url.Values{"keyword": {"invoice"}}, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/results", resp.Header.Get("HX-Redirect"))
}

func TestSearchBackendFailure(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.searchCode = http.StatusInternalServerError
	ta.backend.searchBody = `{"detail":"boom"}`
	b := ta.browser(t)

	resp := b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	doc := parse(t, readBody(t, resp))
	assert.Equal(t, triage.MsgSearchFailed, text(byID(doc, "status-message")))

	resp = b.get("/results")
	doc = parse(t, readBody(t, resp))
	assert.Equal(t, triage.MsgNoResults, text(byClass(doc, "placeholder")[0]))
}

func TestMalformedSearchBody(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.searchBody = `<html>gateway</html>`
	b := ta.browser(t)

	resp := b.post("/search", url.Values{"keyword": {"invoice"}}, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, triage.MsgSearchFailed, strings.TrimSpace(readBody(t, resp)))
}

func TestNoMatches(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.searchBody = `{"keyword":"zzz","results":[]}`
	b := ta.browser(t)

	b.post("/search", url.Values{"keyword": {"zzz"}}, false)
	doc := parse(t, readBody(t, b.get("/results")))
	assert.Equal(t, triage.MsgNoMatches, text(byClass(doc, "placeholder")[0]))
	assert.Empty(t, byTag(doc, "h2"))
}

func TestBackendTextIsEscaped(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.searchBody = `{"keyword":"<b>kw</b>","results":[` +
		`{"id":"x\"><script>alert(1)</script>","sender":"<img src=x onerror=alert(1)>","subject":"<script>alert(2)</script>"}]}`
	b := ta.browser(t)

	b.post("/search", url.Values{"keyword": {"kw"}}, false)
	body := readBody(t, b.get("/results"))

	assert.NotContains(t, body, "<script>alert")
	assert.NotContains(t, body, "<img src=x")
	assert.NotContains(t, body, "<b>kw</b>")

	doc := parse(t, body)
	list := byID(doc, "email-list")
	require.NotNil(t, list)
	assert.Empty(t, byTag(list, "script"))
	assert.Empty(t, byTag(list, "img"))

	rows := byClass(list, "email-row")
	require.Len(t, rows, 1)
	assert.Equal(t, `email-x"><script>alert(1)</script>`, attr(rows[0], "id"))
	assert.Equal(t, "<img src=x onerror=alert(1)>", text(byClass(rows[0], "sender")[0]))
	assert.Equal(t, "<script>alert(2)</script>", text(byClass(rows[0], "subject")[0]))
}

func TestActionResultIsEscaped(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.actionBody = `{"result":"<script>alert(3)</script>"}`
	b := ta.browser(t)

	b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	token := rowTokens(t, parse(t, readBody(t, b.get("/results"))))["42"]

	body := readBody(t, b.post("/action", url.Values{"token": {token}, "action": {"trash"}}, true))
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestForgedTokenNeverReachesBackend(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)
	b.post("/search", url.Values{"keyword": {"invoice"}}, false)

	other, err := api.NewTokenSigner("another-secret", time.Hour)
	require.NoError(t, err)
	forged, err := other.Sign("whatever", "42", 1)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", forged} {
		resp := b.post("/action", url.Values{"token": {tok}, "action": {"trash"}}, false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = b.post("/action", url.Values{"token": {tok}, "action": {"trash"}}, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		assert.NotEmpty(t, payload["error"])
	}

	assert.Empty(t, ta.backend.recordedActions())
}

func TestSessionIDNotInPage(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)
	b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	require.NotNil(t, b.cookie)
	require.NotEmpty(t, b.cookie.Value)

	body := readBody(t, b.get("/results"))
	tokens := rowTokens(t, parse(t, body))
	require.NotEmpty(t, tokens["42"])
	assert.NotContains(t, body, b.cookie.Value)

	for _, tok := range tokens {
		parts := strings.Split(tok, ".")
		require.Len(t, parts, 3)
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		require.NoError(t, err)
		assert.NotContains(t, string(payload), b.cookie.Value)
	}
}

func TestTokenFromAnotherSession(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.browser(t)
	alice.post("/search", url.Values{"keyword": {"invoice"}}, false)
	token := rowTokens(t, parse(t, readBody(t, alice.get("/results"))))["42"]
	require.NotEmpty(t, token)

	mallory := ta.browser(t)
	mallory.get("/")
	resp := mallory.post("/action", url.Values{"token": {token}, "action": {"trash"}}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ta.backend.recordedActions())
}

func TestUnknownAction(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)
	b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	token := rowTokens(t, parse(t, readBody(t, b.get("/results"))))["42"]

	resp := b.post("/action", url.Values{"token": {token}, "action": {"delete"}}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ta.backend.recordedActions())
}

func TestPlainFormActionUsesFlash(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)
	b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	token := rowTokens(t, parse(t, readBody(t, b.get("/results"))))["42"]

	resp := b.post("/action", url.Values{"token": {token}, "action": {"archive"}}, false)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/results", resp.Header.Get("Location"))

	doc := parse(t, readBody(t, b.get("/results")))
	assert.Equal(t, "Archived", text(byID(doc, "status-message")))
	assert.Nil(t, byID(doc, "email-42"))

	// The flash is shown once.
	doc = parse(t, readBody(t, b.get("/results")))
	assert.Empty(t, text(byID(doc, "status-message")))
}

func TestActionFailureKeepsRow(t *testing.T) {
	ta := newTestApp(t)
	ta.backend.actionCode = http.StatusInternalServerError
	ta.backend.actionBody = `{"detail":"boom"}`
	b := ta.browser(t)
	b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	token := rowTokens(t, parse(t, readBody(t, b.get("/results"))))["42"]

	resp := b.post("/action", url.Values{"token": {token}, "action": {"trash"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("HX-Retarget"))
	fragment := parse(t, readBody(t, resp))
	assert.Nil(t, byID(fragment, "email-42"))
	status := byID(fragment, "status-message")
	require.NotNil(t, status)
	assert.Equal(t, triage.MsgActionFailed, text(status))

	doc := parse(t, readBody(t, b.get("/results")))
	assert.NotNil(t, byID(doc, "email-42"))
}

func TestSessionsAreIsolated(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.browser(t)
	alice.post("/search", url.Values{"keyword": {"invoice"}}, false)

	bob := ta.browser(t)
	doc := parse(t, readBody(t, bob.get("/results")))
	assert.Equal(t, triage.MsgNoResults, text(byClass(doc, "placeholder")[0]))
}

func TestHealthAndNotFound(t *testing.T) {
	ta := newTestApp(t)
	b := ta.browser(t)

	resp := b.get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", readBody(t, resp))

	resp = b.get("/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	doc := parse(t, readBody(t, resp))
	assert.Contains(t, text(doc), "Page not found")
}

func TestRateLimit(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.RateBurst = 1
	})
	b := ta.browser(t)

	resp := b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp = b.post("/search", url.Values{"keyword": {"invoice"}}, false)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Pages are not limited.
	resp = b.get("/results")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	provider, err := instrumentation.NewProvider(t.Context(), instrumentation.Config{
		Enabled:         true,
		ServiceName:     "mailtriage-test",
		MetricsExporter: instrumentation.ExporterPrometheus,
		TracingExporter: instrumentation.ExporterNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })

	cfg := config.Default()
	cfg.Server.RateLimit = 0
	store, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	tokens, err := api.NewTokenSigner("test-secret", time.Hour)
	require.NoError(t, err)
	client, err := api.NewClient(cfg.Backend.BaseURL)
	require.NoError(t, err)

	app := server.New(server.Options{
		Config:    cfg,
		Service:   triage.New(client, handoff.NewStore(store, time.Hour), triage.WithLogger(logging.Discard())),
		Tokens:    tokens,
		Storage:   store,
		Telemetry: provider,
		Logger:    logging.Discard(),
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()

	req := httptest.NewRequest(http.MethodPost, "/action", strings.NewReader(url.Values{"token": {"garbage"}, "action": {"trash"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	scrape := readBody(t, resp)
	assert.Contains(t, scrape, "mailtriage_http_requests")
	assert.Contains(t, scrape, `result="rejected"`)
}
