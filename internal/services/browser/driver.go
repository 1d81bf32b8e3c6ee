package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// settleDelay lets the directory finish rendering its response page
// before the success check
const settleDelay = 2 * time.Second

// Driver is the local chromedp submission driver. It advertises no login
// or CAPTCHA capability; directories needing either are filtered out or
// escalated to the alternate driver.
type Driver struct {
	pool   *Pool
	config *common.BrowserConfig
	logger arbor.ILogger
}

// NewDriver creates the local browser driver
func NewDriver(config *common.BrowserConfig, logger arbor.ILogger) *Driver {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Driver{
		pool:   NewPool(config, logger),
		config: config,
		logger: logger,
	}
}

// Initialize starts the browser pool. Called once at worker startup;
// failure is a fatal startup error.
func (d *Driver) Initialize(ctx context.Context) error {
	return d.pool.Init(ctx)
}

// Capabilities reports what this driver can handle
func (d *Driver) Capabilities() interfaces.DriverCapabilities {
	return interfaces.DriverCapabilities{
		HandlesLogin:  false,
		SolvesCaptcha: false,
	}
}

// Close releases the browser pool. Idempotent.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// Submit performs one directory submission. Page and network problems
// surface as failed outcomes; an error return means the driver itself is
// broken and is fatal for the current job.
func (d *Driver) Submit(ctx context.Context, directory *models.Directory, profile models.BusinessProfile, mapping models.FormMapping, options models.SubmissionOptions) (*models.SubmissionOutcome, error) {
	started := time.Now().UTC()

	browser, err := d.pool.Acquire()
	if err != nil {
		return nil, err
	}

	// Fresh tab per attempt; bounded by the caller's attempt deadline
	tab, cancelTab := chromedp.NewContext(browser)
	defer cancelTab()
	tab, cancelWatch := bindDeadline(tab, ctx)
	defer cancelWatch()

	var html string
	navCtx, cancelNav := context.WithTimeout(tab, d.config.NavigateTimeout)
	defer cancelNav()
	err = chromedp.Run(navCtx,
		chromedp.Navigate(directory.SubmissionURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if outcome, ok := classifyNavigation(ctx, navCtx, started); ok {
			return outcome, nil
		}
		return d.classify(ctx, err, started, "navigation failed")
	}

	scan, err := ScanPage(html, mapping)
	if err != nil {
		return failed(started, fmt.Sprintf("page parse failed: %v", err)), nil
	}
	if !scan.HasForm {
		return failed(started, "no submission form detected"), nil
	}
	if len(scan.Fields) == 0 {
		return skipped(started, "no mappable form fields"), nil
	}

	filled, err := d.fillFields(tab, scan, profile)
	if err != nil {
		return d.classify(ctx, err, started, "form fill failed")
	}
	if filled == 0 {
		return skipped(started, "business profile missing mapped fields"), nil
	}

	if scan.SubmitSelector == "" {
		return failed(started, "no submit control found"), nil
	}
	var bodyText string
	err = chromedp.Run(tab,
		chromedp.Click(scan.SubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Text("body", &bodyText, chromedp.ByQuery),
	)
	if err != nil {
		return d.classify(ctx, err, started, "submit failed")
	}

	outcome := &models.SubmissionOutcome{
		StartedAt:         started,
		FinishedAt:        time.Now().UTC(),
		FilledFieldsCount: filled,
		Diagnostics: map[string]any{
			"fields_resolved": len(scan.Fields),
		},
	}
	if DetectSuccess(bodyText, d.config.SuccessIndicators) {
		outcome.Status = models.StatusSubmitted
		outcome.Message = "submission accepted"
	} else {
		outcome.Status = models.StatusFailed
		outcome.Message = "no success indicator on response page"
	}
	return outcome, nil
}

// fillFields types each resolvable profile value with humanised pacing
func (d *Driver) fillFields(tab context.Context, scan *PageScan, profile models.BusinessProfile) (int, error) {
	filled := 0
	for field, selector := range scan.Fields {
		value := profile.Field(field)
		if value == "" {
			continue
		}
		if err := chromedp.Run(tab,
			chromedp.SendKeys(selector, value, chromedp.ByQuery),
			chromedp.Sleep(d.typeDelay()),
		); err != nil {
			return filled, err
		}
		filled++
	}
	return filled, nil
}

func (d *Driver) typeDelay() time.Duration {
	lower := d.config.TypeDelayMin
	upper := d.config.TypeDelayMax
	if upper <= lower {
		return lower
	}
	return lower + time.Duration(rand.Int63n(int64(upper-lower)))
}

// classifyNavigation separates the page's own navigation budget from the
// attempt deadline. A navigation still running when NavigateTimeout fires
// while the attempt is live means a slow or unreachable site; it settles
// as a retryable network failure instead of propagating as a deadline
// error the executor would label an attempt timeout.
func classifyNavigation(attempt, nav context.Context, started time.Time) (*models.SubmissionOutcome, bool) {
	if attempt.Err() == nil && errors.Is(nav.Err(), context.DeadlineExceeded) {
		return failed(started, "network error: navigation timeout"), true
	}
	return nil, false
}

// classify turns a chromedp error into an outcome. Deadline and
// cancellation errors propagate so the executor separates timeouts from
// shutdown; everything else is a failed attempt, not a broken driver.
func (d *Driver) classify(ctx context.Context, err error, started time.Time, phase string) (*models.SubmissionOutcome, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil, err
	}
	message := fmt.Sprintf("%s: %v", phase, err)
	if isNetworkErr(err) {
		message = fmt.Sprintf("network error: %s", message)
	}
	return failed(started, message), nil
}

func isNetworkErr(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "net::") ||
		strings.Contains(text, "connection") ||
		strings.Contains(text, "dns")
}

// bindDeadline cancels the tab when the attempt context ends, so chromedp
// waits unwind with the caller's deadline
func bindDeadline(tab context.Context, attempt context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(attempt, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

func failed(started time.Time, message string) *models.SubmissionOutcome {
	return &models.SubmissionOutcome{
		Status:     models.StatusFailed,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
}

func skipped(started time.Time, message string) *models.SubmissionOutcome {
	return &models.SubmissionOutcome{
		Status:     models.StatusSkipped,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
}
