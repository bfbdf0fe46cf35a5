// Package browser drives the UI in a headless Chrome over the DevTools
// protocol.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aescanero/dago-probe/pkg/harness"
	"github.com/aescanero/dago-probe/pkg/uicontract"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var _ harness.Driver = (*Driver)(nil)

// Options configures the browser
type Options struct {
	// ExecPath is the Chrome binary; empty lets chromedp look it up
	ExecPath string
	Headless bool
	Width    int
	Height   int
	// IgnoreCertErrors accepts self-signed certificates
	IgnoreCertErrors bool
	// NoSandbox is needed when running as root in a container
	NoSandbox bool
}

// DefaultOptions is a 1280x720 headless browser that accepts any certificate
func DefaultOptions() Options {
	return Options{Headless: true, Width: 1280, Height: 720, IgnoreCertErrors: true}
}

// Driver is a harness.Driver backed by one browser tab
type Driver struct {
	pageURL string
	logger  *zap.Logger

	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	launch    sync.Once
	launchErr error
}

// New prepares a browser for the page at pageURL. The browser starts lazily
// on the first action.
func New(pageURL string, opts Options, logger *zap.Logger) *Driver {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.Width > 0 && opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.IgnoreCertErrors {
		allocOpts = append(allocOpts, chromedp.IgnoreCertErrors)
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	return &Driver{
		pageURL:     pageURL,
		logger:      logger,
		tab:         tab,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}
}

// Open navigates to the page and waits for it to load
func (d *Driver) Open(ctx context.Context) error {
	return d.navigate(ctx, chromedp.Navigate(d.pageURL))
}

// ClickStart clicks the start button and waits for the resulting page
func (d *Driver) ClickStart(ctx context.Context) error {
	return d.click(ctx, uicontract.StartButton)
}

// ClickCheck clicks the check button and waits for the resulting page
func (d *Driver) ClickCheck(ctx context.Context) error {
	return d.click(ctx, uicontract.CheckButton)
}

// StatusURL reads the rendered status-query URL
func (d *Driver) StatusURL(ctx context.Context) (string, bool, error) {
	node, err := d.find(ctx, uicontract.StatusURL)
	if err != nil || node == nil {
		return "", false, err
	}
	if v, ok := node.Attribute(uicontract.StatusURLAttr); ok && v != "" {
		return v, true, nil
	}
	text, err := d.text(ctx, node)
	return text, err == nil, err
}

// StatusText reads the rendered status line
func (d *Driver) StatusText(ctx context.Context) (string, bool, error) {
	return d.readText(ctx, uicontract.RuntimeStatus)
}

// Alert reads the rendered alert, if any
func (d *Driver) Alert(ctx context.Context) (string, bool, error) {
	return d.readText(ctx, uicontract.Alert)
}

// Snapshot captures a full-page screenshot and the document markup
func (d *Driver) Snapshot(ctx context.Context) (*harness.Snapshot, error) {
	snap := &harness.Snapshot{}
	err := d.run(ctx,
		chromedp.FullScreenshot(&snap.Screenshot, 90),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture page: %w", err)
	}
	return snap, nil
}

// Close shuts the tab and the browser
func (d *Driver) Close() error {
	d.cancelTab()
	d.cancelAlloc()
	return nil
}

func (d *Driver) click(ctx context.Context, testID string) error {
	node, err := d.find(ctx, testID)
	if err != nil {
		return err
	}
	if node == nil {
		return &harness.ElementNotFoundError{Element: testID}
	}

	return d.navigate(ctx, chromedp.Click(uicontract.Selector(testID), chromedp.ByQuery, chromedp.NodeVisible))
}

// navigate runs an action that loads a new document and checks its status
func (d *Driver) navigate(ctx context.Context, action chromedp.Action) error {
	tctx, done, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer done()

	resp, err := chromedp.RunResponse(tctx, action)
	if err != nil {
		return err
	}
	if resp != nil && resp.Status != 200 {
		return fmt.Errorf("%s: unexpected status %d", resp.URL, resp.Status)
	}
	return nil
}

// find returns the element with the given test id, or nil without waiting
func (d *Driver) find(ctx context.Context, testID string) (*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(uicontract.Selector(testID), &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

func (d *Driver) readText(ctx context.Context, testID string) (string, bool, error) {
	node, err := d.find(ctx, testID)
	if err != nil || node == nil {
		return "", false, err
	}
	text, err := d.text(ctx, node)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

func (d *Driver) text(ctx context.Context, node *cdp.Node) (string, error) {
	var text string
	if err := d.run(ctx, chromedp.Text([]cdp.NodeID{node.NodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, done, err := d.bind(ctx)
	if err != nil {
		return err
	}
	defer done()
	return chromedp.Run(tctx, actions...)
}

// bind derives a tab context that also ends when ctx does. Cancelling it
// leaves the tab open. The browser is launched on the tab context itself,
// since the first Run owns the browser process.
func (d *Driver) bind(ctx context.Context) (context.Context, func(), error) {
	d.launch.Do(func() {
		if err := chromedp.Run(d.tab); err != nil {
			d.launchErr = fmt.Errorf("failed to launch browser: %w", err)
		}
	})
	if d.launchErr != nil {
		return nil, nil, d.launchErr
	}

	tctx, cancel := context.WithCancel(d.tab)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tctx, cancelDeadline = context.WithDeadline(tctx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)

	return tctx, func() {
		stop()
		cancel()
	}, nil
}
