// Package formdriver drives the UI over plain HTTP. It submits the page's
// forms the way a browser without scripting would and reads the contract
// attributes from the returned markup.
package formdriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dago-probe/pkg/harness"
	"github.com/aescanero/dago-probe/pkg/uicontract"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxPageBytes = 4 << 20

var _ harness.Driver = (*Driver)(nil)

// Driver is a harness.Driver backed by an HTTP client with a cookie jar
type Driver struct {
	client  *http.Client
	pageURL string
	logger  *zap.Logger

	mu      sync.Mutex
	current *url.URL
	doc     *html.Node
}

// New creates a driver for the page at pageURL. Each driver has its own
// cookie jar, so each one is its own UI session.
func New(pageURL string, timeout time.Duration, logger *zap.Logger) (*Driver, error) {
	if _, err := url.Parse(pageURL); err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Driver{
		client:  &http.Client{Jar: jar, Timeout: timeout},
		pageURL: pageURL,
		logger:  logger,
	}, nil
}

// Open loads the page
func (d *Driver) Open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.pageURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return d.load(req)
}

// ClickStart submits the form holding the start button
func (d *Driver) ClickStart(ctx context.Context) error {
	return d.submit(ctx, uicontract.StartButton)
}

// ClickCheck submits the form holding the check button
func (d *Driver) ClickCheck(ctx context.Context) error {
	return d.submit(ctx, uicontract.CheckButton)
}

// StatusURL reads the rendered status-query URL
func (d *Driver) StatusURL(ctx context.Context) (string, bool, error) {
	n, err := d.find(uicontract.StatusURL)
	if err != nil || n == nil {
		return "", false, err
	}
	if v, ok := attr(n, uicontract.StatusURLAttr); ok && v != "" {
		return v, true, nil
	}
	return textOf(n), true, nil
}

// StatusText reads the rendered status line
func (d *Driver) StatusText(ctx context.Context) (string, bool, error) {
	n, err := d.find(uicontract.RuntimeStatus)
	if err != nil || n == nil {
		return "", false, err
	}
	return textOf(n), true, nil
}

// Alert reads the rendered alert, if any
func (d *Driver) Alert(ctx context.Context) (string, bool, error) {
	n, err := d.find(uicontract.Alert)
	if err != nil || n == nil {
		return "", false, err
	}
	return textOf(n), true, nil
}

// Snapshot returns the current markup. There is no screenshot without a renderer.
func (d *Driver) Snapshot(ctx context.Context) (*harness.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return &harness.Snapshot{}, nil
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, d.doc); err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	return &harness.Snapshot{HTML: buf.String()}, nil
}

// Close releases idle connections
func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// submit posts the form that contains the button with the given test id
func (d *Driver) submit(ctx context.Context, testID string) error {
	d.mu.Lock()
	doc, current := d.doc, d.current
	d.mu.Unlock()

	if doc == nil {
		return fmt.Errorf("page not loaded")
	}

	button := findByTestID(doc, testID)
	if button == nil {
		return &harness.ElementNotFoundError{Element: testID}
	}

	form := enclosingForm(button)
	if form == nil {
		return fmt.Errorf("%s is not inside a form", testID)
	}

	action, _ := attr(form, "action")
	target, err := current.Parse(action)
	if err != nil {
		return fmt.Errorf("invalid form action %q: %w", action, err)
	}

	method, _ := attr(form, "method")
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	fields := formValues(form)
	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, target.String(), strings.NewReader(fields.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target.RawQuery = fields.Encode()
		req, err = http.NewRequestWithContext(ctx, method, target.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	d.logger.Debug("submitting form",
		zap.String("button", testID),
		zap.String("method", method),
		zap.String("action", target.String()))

	return d.load(req)
}

// load performs req and makes the response the current page
func (d *Driver) load(req *http.Request) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}

	d.mu.Lock()
	d.doc = doc
	d.current = resp.Request.URL
	d.mu.Unlock()

	return nil
}

func (d *Driver) find(testID string) (*html.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil, fmt.Errorf("page not loaded")
	}
	return findByTestID(d.doc, testID), nil
}

func findByTestID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		if v, ok := attr(n, uicontract.TestIDAttr); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByTestID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func enclosingForm(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Form {
			return p
		}
	}
	return nil
}

// formValues collects the named inputs of a form
func formValues(form *html.Node) url.Values {
	values := url.Values{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Input {
			if name, ok := attr(n, "name"); ok && name != "" {
				value, _ := attr(n, "value")
				values.Add(name, value)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return values
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
