package summary

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/samber/lo"

	"sitealarms/services/summarizer/internal/classify"
)

// CriticalAlert is the payload of one critical environmental alarm notification.
type CriticalAlert struct {
	RunID     string
	Zone      string
	ReportKey string
	Sites     []classify.CriticalEnvRow
}

type Notifier interface {
	NotifyCritical(ctx context.Context, alert CriticalAlert) error
}

type NoopNotifier struct{}

func (NoopNotifier) NotifyCritical(context.Context, CriticalAlert) error { return nil }

// WebhookNotifier posts critical alarm sets to an HTTP endpoint. An identical set of sites in
// the same zone is not re-sent within the cooldown.
type WebhookNotifier struct {
	webhookURL string
	authHeader string
	cooldown   time.Duration
	client     *http.Client
	now        func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewWebhookNotifier(webhookURL, authHeader string, cooldownMinutes int) *WebhookNotifier {
	if cooldownMinutes < 0 {
		cooldownMinutes = 0
	}
	return &WebhookNotifier{
		webhookURL: strings.TrimSpace(webhookURL),
		authHeader: strings.TrimSpace(authHeader),
		cooldown:   time.Duration(cooldownMinutes) * time.Minute,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now:  time.Now,
		sent: make(map[string]time.Time),
	}
}

func (n *WebhookNotifier) enabled() bool {
	return n != nil && n.webhookURL != ""
}

func (n *WebhookNotifier) NotifyCritical(ctx context.Context, alert CriticalAlert) error {
	if !n.enabled() || len(alert.Sites) == 0 {
		return nil
	}

	fingerprint := alertFingerprint(alert)
	now := n.now()
	if n.cooldown > 0 {
		n.mu.Lock()
		lastSentAt, ok := n.sent[fingerprint]
		n.mu.Unlock()
		if ok && now.Sub(lastSentAt) < n.cooldown {
			return nil
		}
	}

	sites := make([]map[string]any, 0, len(alert.Sites))
	for _, site := range alert.Sites {
		entry := map[string]any{
			"siteCode":  site.SiteCode,
			"siteName":  site.SiteName,
			"office":    site.Office,
			"siteClass": string(site.Class),
			"alarms":    site.Alarms,
		}
		if site.HasEnvTime() {
			entry["alarmTime"] = site.EnvTime.Format(time.RFC3339)
		}
		sites = append(sites, entry)
	}
	payload := map[string]any{
		"event":     "critical_env_alarms",
		"sentAt":    now.UTC().Format(time.RFC3339),
		"runId":     alert.RunID,
		"zone":      alert.Zone,
		"reportKey": alert.ReportKey,
		"siteCount": len(sites),
		"sites":     sites,
	}

	var failureBody string
	builder := requests.URL(n.webhookURL).
		Client(n.client).
		BodyJSON(payload).
		Post().
		AddValidator(requests.ValidatorHandler(requests.DefaultValidator, requests.ToString(&failureBody)))
	if n.authHeader != "" {
		builder = builder.Header("Authorization", n.authHeader)
	}
	if err := builder.Fetch(ctx); err != nil {
		if body := strings.TrimSpace(failureBody); body != "" {
			return fmt.Errorf("webhook post: %w body=%s", err, truncate(body, 1024))
		}
		return fmt.Errorf("webhook post: %w", err)
	}

	n.mu.Lock()
	for key, at := range n.sent {
		if now.Sub(at) >= n.cooldown {
			delete(n.sent, key)
		}
	}
	n.sent[fingerprint] = now
	n.mu.Unlock()
	return nil
}

func alertFingerprint(alert CriticalAlert) string {
	codes := lo.Uniq(lo.Map(alert.Sites, func(site classify.CriticalEnvRow, _ int) string {
		return site.SiteCode + "=" + site.Alarms
	}))
	sort.Strings(codes)
	return strings.ToLower(strings.TrimSpace(alert.Zone)) + "|" + strings.Join(codes, ",")
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
