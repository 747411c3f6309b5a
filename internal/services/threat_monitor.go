package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/background"
	"github.com/BradenHooton/careguard/internal/config"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/pkg/logger"
	"github.com/google/uuid"
)

const (
	// maxThreatEvents caps how many triggering events a threat keeps.
	maxThreatEvents  = 20
	healthCheckLimit = 5 * time.Second
)

// SecurityEventLogger accepts security events from the rest of the system.
type SecurityEventLogger interface {
	LogSecurityEvent(ctx context.Context, payload models.EventPayload) *models.SecurityEvent
}

// AlertHandler is called synchronously for every new alert.
type AlertHandler func(alert models.Alert)

// EventReporter forwards logged events to an external collector.
type EventReporter interface {
	Report(ctx context.Context, event models.SecurityEvent) error
}

// AdminNotifier escalates severe threats to a human.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, threat models.Threat) error
}

// AccountEnforcer applies account level mitigations.
type AccountEnforcer interface {
	LockIdentity(ctx context.Context, identity, reason string) error
	ForceSignOut(ctx context.Context, userID, reason string) (int, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ThreatMonitorOptions configures a ThreatMonitor.
type ThreatMonitorOptions struct {
	Rules config.DetectionConfig
	// Monitoring enables forwarding of events to Reporter.
	Monitoring bool
	Reporter   EventReporter
	Notifier   AdminNotifier
	Audit      *logger.AuditLogger
}

type alertSubscriber struct {
	id      string
	handler AlertHandler
}

type namedHealthCheck struct {
	name  string
	check HealthCheck
}

type detection struct {
	threat models.Threat
	alert  models.Alert
}

// eventWindow holds the most recent events of one key, pruned by age and
// capped in size.
type eventWindow struct {
	events []models.SecurityEvent
	limit  int
}

// add appends e, drops events older than cutoff and returns the number of
// events left in the window.
func (w *eventWindow) add(e models.SecurityEvent, cutoff time.Time) int {
	w.events = append(w.events, e)

	drop := 0
	for drop < len(w.events) && w.events[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(w.events) - drop - w.limit; over > 0 {
		drop += over
	}
	if drop > 0 {
		n := copy(w.events, w.events[drop:])
		w.events = w.events[:n]
	}
	return len(w.events)
}

func (w *eventWindow) last() time.Time {
	if len(w.events) == 0 {
		return time.Time{}
	}
	return w.events[len(w.events)-1].Timestamp
}

// tail returns a copy of the newest n events.
func (w *eventWindow) tail(n int) []models.SecurityEvent {
	start := len(w.events) - n
	if start < 0 {
		start = 0
	}
	return slices.Clone(w.events[start:])
}

// ThreatMonitor keeps the security event log, runs the detectors and owns
// the alert and threat registries.
type ThreatMonitor struct {
	rules      config.DetectionConfig
	monitoring bool
	reporter   EventReporter
	notifier   AdminNotifier
	audit      *logger.AuditLogger
	clock      background.Clock
	logger     *slog.Logger

	mu           sync.Mutex
	events       []models.SecurityEvent
	threats      map[string]*models.Threat
	threatOrder  []string
	alerts       map[string]*models.Alert
	alertOrder   []string
	failedLogins map[string]*eventWindow
	dataAccess   map[string]*eventWindow
	apiCalls     map[string]*eventWindow
	locations    map[string]map[string]time.Time
	lastActivity map[string]time.Time
	lastScan     time.Time
	subscribers  []alertSubscriber
	enforcer     AccountEnforcer
	healthChecks []namedHealthCheck
}

func NewThreatMonitor(opts ThreatMonitorOptions, clock background.Clock, logger *slog.Logger) *ThreatMonitor {
	return &ThreatMonitor{
		rules:        opts.Rules,
		monitoring:   opts.Monitoring,
		reporter:     opts.Reporter,
		notifier:     opts.Notifier,
		audit:        opts.Audit,
		clock:        clock,
		logger:       logger,
		events:       make([]models.SecurityEvent, 0, opts.Rules.EventLogCapacity),
		threats:      make(map[string]*models.Threat),
		alerts:       make(map[string]*models.Alert),
		failedLogins: make(map[string]*eventWindow),
		dataAccess:   make(map[string]*eventWindow),
		apiCalls:     make(map[string]*eventWindow),
		locations:    make(map[string]map[string]time.Time),
		lastActivity: make(map[string]time.Time),
	}
}

// SetEnforcer wires the component that locks identities and ends sessions.
func (m *ThreatMonitor) SetEnforcer(e AccountEnforcer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforcer = e
}

// AddHealthCheck registers a dependency check run by RunPeriodicChecks.
func (m *ThreatMonitor) AddHealthCheck(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthChecks = append(m.healthChecks, namedHealthCheck{name: name, check: check})
}

// AddAlertCallback subscribes h to new alerts and returns its subscription ID.
func (m *ThreatMonitor) AddAlertCallback(h AlertHandler) string {
	id := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, alertSubscriber{id: id, handler: h})
	return id
}

// RemoveAlertCallback drops a subscription. It reports whether id was known.
func (m *ThreatMonitor) RemoveAlertCallback(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.subscribers {
		if s.id == id {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// LogSecurityEvent records an event, analyzes it against the detectors and
// dispatches any resulting alerts and mitigations. Detection side effects
// never fail the call.
func (m *ThreatMonitor) LogSecurityEvent(ctx context.Context, payload models.EventPayload) *models.SecurityEvent {
	actor := auth.ActorFromContext(ctx)
	if actor == "" {
		actor = payloadActor(payload)
	}
	return m.record(ctx, actor, payload)
}

func (m *ThreatMonitor) record(ctx context.Context, actor string, payload models.EventPayload) *models.SecurityEvent {
	info := auth.RequestInfoFromContext(ctx)
	event := models.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      payload.EventType(),
		Timestamp: m.clock.Now().UTC(),
		Actor:     actor,
		Context: models.EventContext{
			IPAddress: info.IPAddress,
			UserAgent: info.UserAgent,
			RequestID: info.RequestID,
		},
		Payload: payload,
	}
	if s, ok := auth.SessionFromContext(ctx); ok {
		event.Context.SessionID = s.SessionID
	}

	m.mu.Lock()
	m.appendLocked(event)
	m.trackActivityLocked(event)
	detections := m.analyzeLocked(event)
	subscribers := slices.Clone(m.subscribers)
	enforcer := m.enforcer
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "security event",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("actor", logger.MaskSubject(event.Actor)),
	)

	for _, d := range detections {
		m.dispatch(ctx, d, subscribers, enforcer)
	}

	if m.monitoring && m.reporter != nil {
		if err := m.reporter.Report(ctx, event); err != nil {
			m.logger.WarnContext(ctx, "failed to report security event",
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		}
	}

	return &event
}

func (m *ThreatMonitor) appendLocked(e models.SecurityEvent) {
	capacity := m.rules.EventLogCapacity
	if capacity <= 0 {
		capacity = 1
	}
	if len(m.events) >= capacity {
		n := copy(m.events, m.events[len(m.events)-capacity+1:])
		m.events = m.events[:n]
	}
	m.events = append(m.events, e)
}

func (m *ThreatMonitor) trackActivityLocked(e models.SecurityEvent) {
	if e.System() || e.Actor == "" {
		return
	}
	switch {
	case e.Type == models.EventSignOut, e.Type == models.EventSessionExpired, e.Type == models.EventForcedSignOut:
		delete(m.lastActivity, e.Actor)
	case e.Type == models.EventLoginSuccess, e.Context.SessionID != "":
		m.lastActivity[e.Actor] = e.Timestamp
	}
}

// track adds e to the window of key and returns the window size together
// with the newest events for the threat record.
func track(windows map[string]*eventWindow, key string, e models.SecurityEvent, span time.Duration, threshold int) (int, []models.SecurityEvent) {
	w, ok := windows[key]
	if !ok {
		w = &eventWindow{limit: threshold + 1}
		windows[key] = w
	}
	count := w.add(e, e.Timestamp.Add(-span))
	return count, w.tail(maxThreatEvents)
}

func (m *ThreatMonitor) analyzeLocked(e models.SecurityEvent) []detection {
	var found []detection
	raise := func(t models.ThreatType, sev models.Severity, subject, desc string, events []models.SecurityEvent) {
		found = append(found, m.raiseLocked(t, sev, subject, desc, events, e.Timestamp))
	}

	switch p := e.Payload.(type) {
	case models.LoginFailed:
		key := strings.ToLower(p.Identity)
		count, events := track(m.failedLogins, key, e, m.rules.FailedLoginsWindow, m.rules.FailedLoginsThreshold)
		if count >= m.rules.FailedLoginsThreshold {
			raise(models.ThreatBruteForce, models.SeverityHigh, key,
				fmt.Sprintf("%d failed sign-ins within %s", count, m.rules.FailedLoginsWindow), events)
		}

	case models.DataAccess:
		key := volumeKey(e)
		count, events := track(m.dataAccess, key, e, m.rules.DataAccessWindow, m.rules.DataAccessThreshold)
		if count > m.rules.DataAccessThreshold {
			raise(models.ThreatExcessiveAccess, models.SeverityMedium, key,
				fmt.Sprintf("%d data reads within %s", count, m.rules.DataAccessWindow), events)
		}

	case models.APICall:
		key := volumeKey(e)
		count, events := track(m.apiCalls, key, e, m.rules.APICallWindow, m.rules.APICallThreshold)
		if count > m.rules.APICallThreshold {
			raise(models.ThreatAPIAbuse, models.SeverityMedium, key,
				fmt.Sprintf("%d API calls within %s", count, m.rules.APICallWindow), events)
		}

	case models.LoginSucceeded:
		if p.Location == "" {
			break
		}
		key := strings.ToLower(p.Identity)
		distinct := m.trackLocationLocked(key, p.Location, e.Timestamp)
		if distinct > m.rules.MaxLocations {
			raise(models.ThreatUnusualLocation, models.SeverityLow, key,
				fmt.Sprintf("sign-ins from %d locations within %s", distinct, m.rules.LocationWindow),
				[]models.SecurityEvent{e})
		}

	case models.SessionAnomaly:
		raise(models.ThreatSessionHijack, models.SeverityHigh, p.UserID,
			"session token reused by a different client: "+p.Reason, []models.SecurityEvent{e})

	case models.RapidFire:
		raise(models.ThreatAutomatedActivity, models.SeverityMedium, p.Actor,
			fmt.Sprintf("%d events within %s", p.Count, p.Window), []models.SecurityEvent{e})
	}

	return found
}

func (m *ThreatMonitor) trackLocationLocked(identity, location string, at time.Time) int {
	seen, ok := m.locations[identity]
	if !ok {
		seen = make(map[string]time.Time)
		m.locations[identity] = seen
	}
	seen[location] = at

	cutoff := at.Add(-m.rules.LocationWindow)
	for loc, last := range seen {
		if last.Before(cutoff) {
			delete(seen, loc)
		}
	}

	// Only the threshold matters, so keep at most MaxLocations+1 of the
	// most recent locations.
	for len(seen) > m.rules.MaxLocations+1 {
		var oldest string
		var oldestAt time.Time
		for loc, last := range seen {
			if oldest == "" || last.Before(oldestAt) {
				oldest, oldestAt = loc, last
			}
		}
		delete(seen, oldest)
	}

	return len(seen)
}

func (m *ThreatMonitor) raiseLocked(t models.ThreatType, sev models.Severity, subject, desc string, events []models.SecurityEvent, at time.Time) detection {
	threat := &models.Threat{
		ID:          uuid.New().String(),
		Type:        t,
		Severity:    sev,
		Description: desc,
		Subject:     subject,
		Events:      events,
		Status:      models.ThreatActive,
		DetectedAt:  at,
	}
	alert := &models.Alert{
		ID:        uuid.New().String(),
		ThreatID:  threat.ID,
		Type:      t,
		Severity:  sev,
		Message:   fmt.Sprintf("%s: %s", t, desc),
		Timestamp: at,
		Status:    models.AlertActive,
		Actions:   models.RecommendedActions(sev),
	}

	m.threats[threat.ID] = threat
	m.threatOrder = append(m.threatOrder, threat.ID)
	m.alerts[alert.ID] = alert
	m.alertOrder = append(m.alertOrder, alert.ID)

	return detection{threat: copyThreat(threat), alert: copyAlert(alert)}
}

func (m *ThreatMonitor) dispatch(ctx context.Context, d detection, subscribers []alertSubscriber, enforcer AccountEnforcer) {
	for _, s := range subscribers {
		m.notify(s, copyAlert(&d.alert))
	}

	mitigation := m.mitigate(ctx, d.threat, enforcer)

	if m.audit != nil {
		m.audit.LogThreat(ctx, d.threat.ID, string(d.threat.Type), string(d.threat.Severity), d.threat.Subject, mitigation)
	}
}

func (m *ThreatMonitor) notify(s alertSubscriber, alert models.Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alert callback panicked",
				slog.String("callback_id", s.id),
				slog.String("alert_id", alert.ID),
				slog.Any("panic", r),
			)
		}
	}()
	s.handler(alert)
}

// mitigate applies the built-in response to HIGH and CRITICAL threats and
// returns its name.
func (m *ThreatMonitor) mitigate(ctx context.Context, threat models.Threat, enforcer AccountEnforcer) string {
	if !threat.Severity.AtLeast(models.SeverityHigh) {
		return "none"
	}

	ctx = context.WithoutCancel(ctx)
	var (
		action string
		err    error
	)

	switch {
	case threat.Type == models.ThreatBruteForce && enforcer != nil:
		action = "lock_identity"
		err = enforcer.LockIdentity(ctx, threat.Subject, threat.Description)
	case threat.Type == models.ThreatSessionHijack && enforcer != nil:
		action = "force_sign_out"
		_, err = enforcer.ForceSignOut(ctx, threat.Subject, threat.Description)
	case m.notifier != nil:
		action = "notify_admin"
		err = m.notifier.NotifyAdmins(ctx, threat)
	default:
		return "none"
	}

	if err != nil {
		m.logger.ErrorContext(ctx, "threat mitigation failed",
			slog.String("threat_id", threat.ID),
			slog.String("mitigation", action),
			slog.Any("error", err),
		)
		return action + "_failed"
	}
	return action
}

// RunPeriodicChecks emits SESSION_TIMEOUT for idle actors, RAPID_FIRE_DETECTED
// for bursts since the previous run and SERVICE_UNHEALTHY for failing
// health checks. It returns the events it logged.
func (m *ThreatMonitor) RunPeriodicChecks(ctx context.Context) []*models.SecurityEvent {
	now := m.clock.Now().UTC()

	type pending struct {
		actor   string
		payload models.EventPayload
	}
	var out []pending

	m.mu.Lock()
	idle := make([]string, 0)
	for actor, last := range m.lastActivity {
		if now.Sub(last) > m.rules.InactivityThreshold {
			idle = append(idle, actor)
		}
	}
	sort.Strings(idle)
	for _, actor := range idle {
		out = append(out, pending{actor: actor, payload: models.SessionTimeout{
			Actor:   actor,
			IdleFor: now.Sub(m.lastActivity[actor]),
		}})
		delete(m.lastActivity, actor)
	}

	since := m.lastScan
	m.lastScan = now
	byActor := make(map[string][]time.Time)
	for _, e := range m.events {
		if e.System() || e.Actor == "" || !e.Timestamp.After(since) {
			continue
		}
		byActor[e.Actor] = append(byActor[e.Actor], e.Timestamp)
	}
	checks := slices.Clone(m.healthChecks)
	m.mu.Unlock()

	actors := make([]string, 0, len(byActor))
	for actor := range byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	for _, actor := range actors {
		if n := densestWindow(byActor[actor], m.rules.RapidFireWindow); n >= m.rules.RapidFireThreshold {
			out = append(out, pending{actor: actor, payload: models.RapidFire{
				Actor:  actor,
				Count:  n,
				Window: m.rules.RapidFireWindow,
			}})
		}
	}

	for _, hc := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckLimit)
		err := hc.check(checkCtx)
		cancel()
		if err != nil {
			m.logger.WarnContext(ctx, "dependency health check failed",
				slog.String("service", hc.name),
				slog.Any("error", err),
			)
			out = append(out, pending{payload: models.ServiceUnhealthy{Service: hc.name, Error: err.Error()}})
		}
	}

	logged := make([]*models.SecurityEvent, 0, len(out))
	for _, p := range out {
		logged = append(logged, m.record(ctx, p.actor, p.payload))
	}
	return logged
}

// densestWindow returns the largest number of sorted timestamps that fit in
// a span shorter than window.
func densestWindow(times []time.Time, window time.Duration) int {
	best, start := 0, 0
	for end := range times {
		for times[end].Sub(times[start]) >= window {
			start++
		}
		if n := end - start + 1; n > best {
			best = n
		}
	}
	return best
}

// PurgeExpired drops alerts and threats older than the retention period,
// whatever their status, along with idle detector windows. It returns how
// many alerts and threats were removed.
func (m *ThreatMonitor) PurgeExpired() int {
	now := m.clock.Now().UTC()
	cutoff := now.Add(-m.rules.ThreatRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	keptThreats := m.threatOrder[:0]
	for _, id := range m.threatOrder {
		if m.threats[id].DetectedAt.Before(cutoff) {
			delete(m.threats, id)
			removed++
			continue
		}
		keptThreats = append(keptThreats, id)
	}
	m.threatOrder = keptThreats

	keptAlerts := m.alertOrder[:0]
	for _, id := range m.alertOrder {
		if m.alerts[id].Timestamp.Before(cutoff) {
			delete(m.alerts, id)
			removed++
			continue
		}
		keptAlerts = append(keptAlerts, id)
	}
	m.alertOrder = keptAlerts

	pruneWindows(m.failedLogins, now.Add(-m.rules.FailedLoginsWindow))
	pruneWindows(m.dataAccess, now.Add(-m.rules.DataAccessWindow))
	pruneWindows(m.apiCalls, now.Add(-m.rules.APICallWindow))

	locationCutoff := now.Add(-m.rules.LocationWindow)
	for identity, seen := range m.locations {
		for loc, last := range seen {
			if last.Before(locationCutoff) {
				delete(seen, loc)
			}
		}
		if len(seen) == 0 {
			delete(m.locations, identity)
		}
	}

	if removed > 0 {
		m.logger.Info("purged expired threats and alerts", slog.Int("removed", removed))
	}
	return removed
}

func pruneWindows(windows map[string]*eventWindow, cutoff time.Time) {
	for key, w := range windows {
		if w.last().Before(cutoff) {
			delete(windows, key)
		}
	}
}

// GetActiveAlerts returns the ACTIVE alerts, oldest first.
func (m *ThreatMonitor) GetActiveAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0)
	for _, id := range m.alertOrder {
		if a := m.alerts[id]; a.Status == models.AlertActive {
			out = append(out, copyAlert(a))
		}
	}
	return out
}

// GetActiveThreats returns the ACTIVE threats, oldest first.
func (m *ThreatMonitor) GetActiveThreats() []models.Threat {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Threat, 0)
	for _, id := range m.threatOrder {
		if t := m.threats[id]; t.Status == models.ThreatActive {
			out = append(out, copyThreat(t))
		}
	}
	return out
}

func (m *ThreatMonitor) GetThreat(id string) (models.Threat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threats[id]
	if !ok {
		return models.Threat{}, models.ErrNotFound
	}
	return copyThreat(t), nil
}

// DismissAlert marks an alert DISMISSED. Its threat is left as is.
func (m *ThreatMonitor) DismissAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.ErrNotFound
	}
	if a.Status == models.AlertDismissed {
		return nil
	}
	now := m.clock.Now().UTC()
	a.Status = models.AlertDismissed
	a.DismissedAt = &now
	return nil
}

func (m *ThreatMonitor) ResolveThreat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threats[id]
	if !ok {
		return models.ErrNotFound
	}
	if t.Status == models.ThreatResolved {
		return nil
	}
	now := m.clock.Now().UTC()
	t.Status = models.ThreatResolved
	t.ResolvedAt = &now
	return nil
}

// RecentEvents returns up to n of the newest logged events, oldest first.
func (m *ThreatMonitor) RecentEvents(n int) []models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	return slices.Clone(m.events[len(m.events)-n:])
}

// volumeKey is the actor of an event, or its client IP when anonymous.
func volumeKey(e models.SecurityEvent) string {
	if e.Actor != "" {
		return e.Actor
	}
	if e.Context.IPAddress != "" {
		return "ip:" + e.Context.IPAddress
	}
	return "anonymous"
}

// payloadActor names the actor of events logged outside a signed-in request.
func payloadActor(p models.EventPayload) string {
	switch v := p.(type) {
	case models.LoginSucceeded:
		return v.UserID
	case models.LoginFailed:
		return strings.ToLower(v.Identity)
	case models.AccountLocked:
		return strings.ToLower(v.Identity)
	case models.AccountCreated:
		return v.UserID
	case models.SignedOut:
		return v.UserID
	case models.SessionExpired:
		return v.UserID
	case models.ForcedSignOut:
		return v.UserID
	case models.PasswordChanged:
		return v.UserID
	case models.SessionAnomaly:
		return v.UserID
	case models.SessionTimeout:
		return v.Actor
	case models.RapidFire:
		return v.Actor
	}
	return ""
}

func copyThreat(t *models.Threat) models.Threat {
	c := *t
	c.Events = slices.Clone(t.Events)
	return c
}

func copyAlert(a *models.Alert) models.Alert {
	c := *a
	c.Actions = slices.Clone(a.Actions)
	return c
}
