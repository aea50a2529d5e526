package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"adlaunch/internal/logging"
	"adlaunch/internal/model"
)

// Config controls the browser-backed Service.
type Config struct {
	// BaseURL is the platform root, e.g. https://www.trafficjunky.com.
	BaseURL string

	// SessionFile is a JSON cookie export from an authenticated session.
	// The platform gates campaign management behind login with a captcha,
	// so we restore cookies instead of automating the login form.
	SessionFile string

	Headless   bool
	BrowserBin string

	// SlowMo inserts a delay before each input action. Useful when watching
	// a non-headless run.
	SlowMo time.Duration

	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// DefaultConfig returns browser settings suitable for unattended runs.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 45 * time.Second,
		ActionTimeout:     30 * time.Second,
	}
}

// Browser drives the ad platform's web UI through one Chrome instance.
// Pages are created per Configure call; the browser process itself is shared
// across the run. Not safe for concurrent Configure calls; parallel workers
// each own a Browser.
type Browser struct {
	cfg      Config
	launcher *launcher.Launcher
	browser  *rod.Browser
	log      *logging.Logger
}

var _ Service = (*Browser)(nil)

// NewBrowser creates an unstarted browser service.
func NewBrowser(cfg Config) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultConfig().NavigationTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	return &Browser{
		cfg: cfg,
		log: logging.Get(logging.CategoryBrowser),
	}
}

// Start launches Chrome, connects, and restores the authenticated session.
func (b *Browser) Start(ctx context.Context) error {
	l := launcher.New().Headless(b.cfg.Headless)
	if b.cfg.BrowserBin != "" {
		l = l.Bin(b.cfg.BrowserBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	b.launcher = l

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if b.cfg.SlowMo > 0 {
		browser = browser.SlowMotion(b.cfg.SlowMo)
	}
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connecting to browser: %w", err)
	}
	b.browser = browser

	if b.cfg.SessionFile != "" {
		if err := b.restoreSession(); err != nil {
			b.Stop()
			return err
		}
	}

	b.log.Info("browser started (headless=%v)", b.cfg.Headless)
	return nil
}

// Stop closes the browser and cleans up the launched process.
func (b *Browser) Stop() {
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.log.Warn("closing browser: %v", err)
		}
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
}

// sessionState matches the cookie export written by the session capture
// helper: a subset of the browser storage-state format.
type sessionState struct {
	Cookies []struct {
		Name     string  `json:"name"`
		Value    string  `json:"value"`
		Domain   string  `json:"domain"`
		Path     string  `json:"path"`
		Expires  float64 `json:"expires"`
		HTTPOnly bool    `json:"httpOnly"`
		Secure   bool    `json:"secure"`
	} `json:"cookies"`
}

func (b *Browser) restoreSession() error {
	data, err := os.ReadFile(b.cfg.SessionFile)
	if err != nil {
		return fmt.Errorf("reading session file: %w", err)
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parsing session file %s: %w", b.cfg.SessionFile, err)
	}
	if len(state.Cookies) == 0 {
		return fmt.Errorf("session file %s contains no cookies", b.cfg.SessionFile)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	if err := b.browser.SetCookies(params); err != nil {
		return fmt.Errorf("restoring session cookies: %w", err)
	}

	b.log.Info("restored %d session cookies", len(params))
	return nil
}

// Configure implements Service. Each step is bounded by ActionTimeout or
// NavigationTimeout; any expiry surfaces as a *FatalError so the orchestrator
// fails the task without retrying.
func (b *Browser) Configure(ctx context.Context, req Request) (Result, error) {
	if b.browser == nil {
		return Result{}, &FatalError{Text: "browser not started"}
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return Result{}, &FatalError{Text: fmt.Sprintf("opening page: %v", err)}
	}
	defer page.Close()
	page = page.Context(ctx)

	b.log.Info("configuring %s/%s as %q (clone of %s)",
		req.SetName, req.Variant, req.CampaignName, req.CloneSource())

	entityID, err := b.cloneCampaign(page, req)
	if err != nil {
		return Result{}, err
	}

	if err := b.applySettings(page, entityID, req); err != nil {
		return Result{}, err
	}

	uploaded, err := b.uploadCreatives(page, entityID, req.Creatives)
	if err != nil {
		return Result{}, err
	}

	b.log.Info("configured %s/%s: entity=%s ads=%d", req.SetName, req.Variant, entityID, uploaded)
	return Result{EntityID: entityID, AdsUploaded: uploaded}, nil
}

// Selectors for the campaign management UI. Centralized because the platform
// reshuffles its markup a few times a year.
const (
	selCloneName       = `input[name="campaign_name"]`
	selCloneSubmit     = `button[data-action="clone-submit"]`
	selTargetCPA       = `input[name="target_cpa"]`
	selMaxBid          = `input[name="max_bid"]`
	selSourceBudget    = `input[name="per_source_test_budget"]`
	selDailyBudget     = `input[name="max_daily_budget"]`
	selFrequencyCap    = `input[name="frequency_cap"]`
	selKeywordBox      = `textarea[name="keywords"]`
	selGeoBox          = `input[name="geo_targets"]`
	selGenderSelect    = `select[name="gender"]`
	selSettingsSave    = `button[data-action="save-settings"]`
	selCreativeIDs     = `textarea[name="creative_ids"]`
	selCreativeSubmit  = `button[data-action="attach-creatives"]`
	selCreativeRows    = `table.creatives-list tbody tr`
	selErrorBanner     = `div.alert-danger`
	selLoginForm       = `form#login-form`
	errorBannerTimeout = 5 * time.Second
)

var campaignIDFromURL = regexp.MustCompile(`/campaigns/(\d+)`)

func (b *Browser) cloneCampaign(page *rod.Page, req Request) (string, error) {
	cloneURL := fmt.Sprintf("%s/campaigns/%s/clone", strings.TrimRight(b.cfg.BaseURL, "/"), req.CloneSource())
	if err := b.navigate(page, cloneURL); err != nil {
		return "", err
	}

	if err := b.fill(page, selCloneName, req.CampaignName); err != nil {
		return "", err
	}
	if err := b.click(page, selCloneSubmit); err != nil {
		return "", err
	}
	if err := page.Timeout(b.cfg.NavigationTimeout).WaitLoad(); err != nil {
		return "", &FatalError{Text: fmt.Sprintf("waiting for clone of %s: %v", req.CloneSource(), err)}
	}

	if banner := b.readErrorBanner(page); banner != "" {
		return "", &ValidationError{Text: banner}
	}

	info, err := page.Info()
	if err != nil {
		return "", &FatalError{Text: fmt.Sprintf("reading page info after clone: %v", err)}
	}
	m := campaignIDFromURL.FindStringSubmatch(info.URL)
	if m == nil {
		return "", &FatalError{Text: fmt.Sprintf("clone did not land on a campaign page: %s", info.URL)}
	}
	return m[1], nil
}

func (b *Browser) applySettings(page *rod.Page, entityID string, req Request) error {
	settingsURL := fmt.Sprintf("%s/campaigns/%s/settings", strings.TrimRight(b.cfg.BaseURL, "/"), entityID)
	if err := b.navigate(page, settingsURL); err != nil {
		return err
	}

	s := req.Settings
	fields := []struct {
		sel   string
		value string
	}{
		{selTargetCPA, fmt.Sprintf("%.2f", s.TargetCPA)},
		{selMaxBid, fmt.Sprintf("%.2f", s.MaxBid)},
		{selSourceBudget, fmt.Sprintf("%.2f", s.PerSourceBudget)},
		{selDailyBudget, fmt.Sprintf("%.2f", s.MaxDailyBudget)},
		{selFrequencyCap, fmt.Sprintf("%d", s.FrequencyCap)},
		{selKeywordBox, joinKeywords(req.Keywords)},
		{selGeoBox, strings.Join(req.Geo, ",")},
	}
	for _, f := range fields {
		if err := b.fill(page, f.sel, f.value); err != nil {
			return err
		}
	}

	if s.Gender != "" {
		el, err := page.Timeout(b.cfg.ActionTimeout).Element(selGenderSelect)
		if err != nil {
			return &FatalError{Text: fmt.Sprintf("finding %s: %v", selGenderSelect, err)}
		}
		if err := el.Select([]string{s.Gender}, true, rod.SelectorTypeText); err != nil {
			return &FatalError{Text: fmt.Sprintf("selecting gender %q: %v", s.Gender, err)}
		}
	}

	if err := b.click(page, selSettingsSave); err != nil {
		return err
	}
	if err := page.Timeout(b.cfg.NavigationTimeout).WaitLoad(); err != nil {
		return &FatalError{Text: fmt.Sprintf("saving settings for %s: %v", entityID, err)}
	}
	if banner := b.readErrorBanner(page); banner != "" {
		return &ValidationError{Text: banner}
	}
	return nil
}

func (b *Browser) uploadCreatives(page *rod.Page, entityID string, creatives []model.Creative) (int, error) {
	adsURL := fmt.Sprintf("%s/campaigns/%s/ads", strings.TrimRight(b.cfg.BaseURL, "/"), entityID)
	if err := b.navigate(page, adsURL); err != nil {
		return 0, err
	}

	ids := make([]string, len(creatives))
	for i, c := range creatives {
		ids[i] = c.ID
	}
	if err := b.fill(page, selCreativeIDs, strings.Join(ids, "\n")); err != nil {
		return 0, err
	}
	if err := b.click(page, selCreativeSubmit); err != nil {
		return 0, err
	}
	if err := page.Timeout(b.cfg.NavigationTimeout).WaitLoad(); err != nil {
		return 0, &FatalError{Text: fmt.Sprintf("attaching creatives to %s: %v", entityID, err)}
	}

	// The platform validates creatives server-side on submit; rejections
	// surface in the red banner.
	if banner := b.readErrorBanner(page); banner != "" {
		return 0, &ValidationError{Text: banner}
	}

	rows, err := page.Timeout(b.cfg.ActionTimeout).Elements(selCreativeRows)
	if err != nil {
		return 0, &FatalError{Text: fmt.Sprintf("counting attached creatives: %v", err)}
	}
	return len(rows), nil
}

func (b *Browser) navigate(page *rod.Page, url string) error {
	p := page.Timeout(b.cfg.NavigationTimeout)
	if err := p.Navigate(url); err != nil {
		return &FatalError{Text: fmt.Sprintf("navigating to %s: %v", url, err)}
	}
	if err := p.WaitLoad(); err != nil {
		return &FatalError{Text: fmt.Sprintf("loading %s: %v", url, err)}
	}

	// Landing on the login form means the restored session has expired.
	if has, _, _ := page.Timeout(time.Second).Has(selLoginForm); has {
		return &FatalError{Text: "session expired: platform redirected to login"}
	}
	return nil
}

func (b *Browser) fill(page *rod.Page, selector, value string) error {
	el, err := page.Timeout(b.cfg.ActionTimeout).Element(selector)
	if err != nil {
		return &FatalError{Text: fmt.Sprintf("finding %s: %v", selector, err)}
	}
	if err := el.SelectAllText(); err != nil {
		return &FatalError{Text: fmt.Sprintf("clearing %s: %v", selector, err)}
	}
	if err := el.Input(value); err != nil {
		return &FatalError{Text: fmt.Sprintf("filling %s: %v", selector, err)}
	}
	return nil
}

func (b *Browser) click(page *rod.Page, selector string) error {
	el, err := page.Timeout(b.cfg.ActionTimeout).Element(selector)
	if err != nil {
		return &FatalError{Text: fmt.Sprintf("finding %s: %v", selector, err)}
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &FatalError{Text: fmt.Sprintf("clicking %s: %v", selector, err)}
	}
	return nil
}

// readErrorBanner returns the text of the platform's error banner, or "" when
// no banner is shown. Banner absence is the common case, so the wait is short.
func (b *Browser) readErrorBanner(page *rod.Page) string {
	has, el, err := page.Timeout(errorBannerTimeout).Has(selErrorBanner)
	if err != nil || !has {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func joinKeywords(keywords []model.Keyword) string {
	parts := make([]string, len(keywords))
	for i, k := range keywords {
		if k.MatchType == model.MatchExact {
			parts[i] = fmt.Sprintf("[%s]", k.Name)
		} else {
			parts[i] = k.Name
		}
	}
	return strings.Join(parts, "\n")
}
