package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
)

var errNotStarted = errors.New("connector not started")

// ChromeConnector drives one headless Chrome tab against the quotes page.
// It owns the browser process for its whole lifetime and is not safe for
// concurrent use.
type ChromeConnector struct {
	cfg    service.SourceConfig
	logger *zap.SugaredLogger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromeConnector(cfg service.SourceConfig, logger *zap.SugaredLogger) *ChromeConnector {
	return &ChromeConnector{cfg: cfg, logger: logger}
}

// Start launches the browser, opens the page, then tries to switch on live
// prices and expand the table. Failing either toggle is logged and ignored.
func (c *ChromeConnector) Start(ctx context.Context) error {
	if c.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1366, 2000),
	)
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}

	// The browser hangs off Background and is torn down only by Stop.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(c.logger.Debugf),
		chromedp.WithErrorf(c.logger.Debugf),
	)
	c.allocCancel, c.browserCtx, c.browserCancel = allocCancel, browserCtx, browserCancel

	// The first Run allocates the browser against the context it is given,
	// so it must use browserCtx itself rather than a derived timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	c.logger.Infow("Navigating to quotes page", "url", c.cfg.URL)
	if err := c.run(ctx, chromedp.Navigate(c.cfg.URL)); err != nil {
		return fmt.Errorf("navigate %s: %w", c.cfg.URL, err)
	}

	if clicked, err := c.click(ctx, c.cfg.LiveSelector); err != nil {
		c.logger.Warnw("Could not enable live prices", "error", err)
	} else if clicked {
		c.logger.Info("Live prices enabled")
	}

	// Scroll first so lazily rendered controls exist.
	if err := c.run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, 2000)`, nil),
		chromedp.Sleep(time.Second),
	); err != nil {
		c.logger.Warnw("Could not scroll page", "error", err)
	}

	clicked, err := c.click(ctx, c.cfg.ExpandSelector)
	switch {
	case err != nil:
		c.logger.Warnw("Could not expand table", "error", err)
	case clicked:
		c.logger.Info("Table expanded")
		if err := c.run(ctx, chromedp.Sleep(2*time.Second)); err != nil {
			c.logger.Warnw("Wait after expand interrupted", "error", err)
		}
	default:
		c.logger.Info("Expand control not present, using default rows")
	}
	return nil
}

// Collect reads the rendered quotes table. An absent table yields no quotes.
func (c *ChromeConnector) Collect(ctx context.Context) ([]model.Quote, error) {
	if c.browserCtx == nil {
		return nil, errNotStarted
	}

	selectors, err := json.Marshal(c.cfg.TableSelectors)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(extractRowsJS, selectors), &rows)); err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	return ParseRows(rows, c.cfg.MaxTickerLen), nil
}

// Stop closes the browser. It is safe to call more than once and after a
// failed Start.
func (c *ChromeConnector) Stop() error {
	if c.browserCtx == nil {
		return nil
	}

	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	c.browserCtx, c.browserCancel, c.allocCancel = nil, nil, nil

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// run executes actions on the tab, bounded by the caller's deadline and
// cancellation without tying the browser's lifetime to them.
func (c *ChromeConnector) run(parent context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.browserCtx)
	if deadline, ok := parent.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(c.browserCtx, deadline)
	}
	stop := context.AfterFunc(parent, cancel)
	defer func() {
		stop()
		cancel()
	}()
	return chromedp.Run(runCtx, actions...)
}

// click clicks the first element matching selector, if any.
func (c *ChromeConnector) click(ctx context.Context, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var clicked bool
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickJS, quoted), &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

const clickJS = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.click();
	return true;
})()`

// extractRowsJS returns one string array per table row. Cell 1 prefers the
// link text so the ticker code is not polluted by badges.
const extractRowsJS = `(() => {
	const selectors = %s;
	let table = null;
	for (const sel of selectors) {
		table = document.querySelector(sel);
		if (table) break;
	}
	if (!table) return [];
	const out = [];
	table.querySelectorAll('tbody tr').forEach(row => {
		const cells = Array.from(row.querySelectorAll('td'));
		out.push(cells.map((cell, i) => {
			if (i === 1) {
				const a = cell.querySelector('a');
				if (a && a.textContent) return a.textContent.trim();
			}
			return (cell.textContent || '').trim();
		}));
	});
	return out;
})()`
