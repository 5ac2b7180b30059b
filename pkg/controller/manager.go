package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/timer"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// SocRequester asks the car for a fresh SOC reading. It returns false when the
// request could not be made.
type SocRequester interface {
	RequestSocUpdate(ctx context.Context) bool
}

// ChargerModeSetter instructs the EVSE.
type ChargerModeSetter interface {
	SetChargerMode(ctx context.Context, mode types.ChargerMode) error
}

// EstimateListener is notified whenever a new estimate is computed.
type EstimateListener interface {
	EnergyEstimated(ctx context.Context, estimate types.Estimate)
}

// Manager owns the charging session state machine. It is not safe for
// concurrent use; all calls and timer callbacks must be serialized.
type Manager struct {
	clock     timer.Clock
	settings  types.Settings
	tracker   *EnergyTracker
	car       SocRequester
	charger   ChargerModeSetter
	listeners []EstimateListener

	sessionID string
	state     types.SessionState
	lastMode  types.ChargerMode
	estimate  *types.Estimate

	capacityWarned bool

	socTimeout *timer.Timer
	socNext    *timer.Timer
	socRetry   *timer.Timer
}

// NewManager returns a Manager with no vehicle plugged in. car and charger may
// be nil, in which case requests are logged and reported as failed.
func NewManager(clock timer.Clock, settings types.Settings, car SocRequester, charger ChargerModeSetter) *Manager {
	m := &Manager{
		clock:    clock,
		settings: settings,
		tracker:  NewEnergyTracker(clock, settings.SocBeforeEnergy, settings.SocAfterEnergy),
		car:      car,
		charger:  charger,
		lastMode: types.ChargerModeUnknown,
	}
	m.socTimeout = timer.New(clock, "soc_request_timeout", settings.SocRequestTimeout, m.onSocTimeout)
	m.socNext = timer.New(clock, "soc_next_update", settings.SocNextUpdate, m.onSocNext)
	m.socRetry = timer.New(clock, "soc_update_retry", settings.SocUpdateRetry, m.onSocRetry)
	return m
}

// AddListener registers l for estimate notifications.
func (m *Manager) AddListener(l EstimateListener) {
	m.listeners = append(m.listeners, l)
}

func (m *Manager) logCtx(ctx context.Context) context.Context {
	if m.sessionID == "" {
		return ctx
	}
	return log.WithAttrs(ctx, slog.String("session", m.sessionID))
}

// PlugConnected starts a new charging session.
func (m *Manager) PlugConnected(ctx context.Context) {
	m.plugConnected(ctx, nil)
}

// PlugConnectedWithEnergy starts a new charging session with the charger
// energy reported at connect time.
func (m *Manager) PlugConnectedWithEnergy(ctx context.Context, energy float64) {
	m.plugConnected(ctx, &energySample{ts: m.clock.Now(), value: energy})
}

func (m *Manager) plugConnected(ctx context.Context, hint *energySample) {
	if m.tracker.Connected() {
		log.Ctx(m.logCtx(ctx)).DebugContext(ctx, "plug already connected")
		return
	}

	m.sessionID = uuid.New().String()
	ctx = m.logCtx(ctx)
	m.state = types.SessionStateRampingUp
	m.estimate = nil
	m.tracker.ConnectPlug()

	var resolvable bool
	if hint != nil {
		resolvable = m.tracker.AddEntryAt(hint.ts, hint.value)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"plug connected",
		slog.Bool("energyHint", hint != nil),
		slog.Bool("resolvable", resolvable),
	)

	// the car may have been driven since the retained SOC was measured
	m.requestSocUpdate(ctx)

	if resolvable {
		m.state = types.SessionStateSocKnown
		m.recalculateEnergy(ctx)
		m.CalculateEVSEState(ctx)
		m.socNext.Schedule(ctx)
		return
	}
	if remaining := m.tracker.TimeUntilSocInvalid(); remaining > 0 {
		log.Ctx(ctx).DebugContext(ctx, "retained SOC still usable", slog.Duration("remaining", remaining))
	}
	m.socTimeout.Schedule(ctx)
}

// PlugDisconnected ends the session and clears all session-scoped state.
func (m *Manager) PlugDisconnected(ctx context.Context) {
	ctx = m.logCtx(ctx)
	log.Ctx(ctx).InfoContext(ctx, "plug disconnected", slog.String("state", string(m.state)))

	m.socTimeout.Cancel(ctx)
	m.socNext.Cancel(ctx)
	m.socRetry.Cancel(ctx)
	m.tracker.DisconnectPlug()
	m.state = types.SessionStateNone
	m.estimate = nil
	m.lastMode = types.ChargerModeUnknown
	m.sessionID = ""
}

// SetSocLevel records a SOC reading from the car measured at ts.
func (m *Manager) SetSocLevel(ctx context.Context, soc float64, ts time.Time) {
	ctx = m.logCtx(ctx)
	m.socRetry.Cancel(ctx)

	known := m.tracker.UpdateSoc(ts, soc)
	log.Ctx(ctx).DebugContext(
		ctx,
		"soc level received",
		slog.Float64("soc", soc),
		slog.Time("ts", ts),
		slog.Bool("known", known),
	)
	if !m.tracker.Connected() {
		return
	}
	// an unpaired SOC leaves the timeout armed so autopilot stays the fallback
	if known {
		m.socTimeout.Cancel(ctx)
		m.state = types.SessionStateSocKnown
		m.recalculateEnergy(ctx)
		m.CalculateEVSEState(ctx)
	}
	m.socNext.Schedule(ctx)
}

// AddChargerEnergy records the session energy reported by the charger at ts.
func (m *Manager) AddChargerEnergy(ctx context.Context, value float64, ts time.Time) {
	ctx = m.logCtx(ctx)
	if !m.tracker.Connected() {
		// the charger resets its session counter at connect
		log.Ctx(ctx).DebugContext(ctx, "ignoring charger energy while unplugged", slog.Float64("energy", value))
		return
	}
	if !m.tracker.AddEntryAt(ts, value) {
		return
	}
	if m.state != types.SessionStateSocKnown {
		m.socTimeout.Cancel(ctx)
		m.state = types.SessionStateSocKnown
		m.socNext.Schedule(ctx)
	}
	m.recalculateEnergy(ctx)
	m.CalculateEVSEState(ctx)
}

func (m *Manager) onSocTimeout(ctx context.Context) {
	ctx = m.logCtx(ctx)
	if m.state != types.SessionStateRampingUp {
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "no SOC received in time, switching to autopilot")
	m.state = types.SessionStateAutopilot
	m.CalculateEVSEState(ctx)
	m.socNext.Schedule(ctx)
}

// onSocNext keeps running while stopped so polling resumes once charging
// does.
func (m *Manager) onSocNext(ctx context.Context) {
	ctx = m.logCtx(ctx)
	if !m.tracker.Connected() {
		return
	}
	if m.ChargingActive() {
		m.requestSocUpdate(ctx)
	}
	m.socNext.Schedule(ctx)
}

func (m *Manager) onSocRetry(ctx context.Context) {
	ctx = m.logCtx(ctx)
	if !m.tracker.Connected() {
		return
	}
	m.requestSocUpdate(ctx)
}

func (m *Manager) requestSocUpdate(ctx context.Context) bool {
	if m.car == nil {
		log.Ctx(ctx).WarnContext(ctx, "no car configured to request SOC from")
		return false
	}
	if !m.car.RequestSocUpdate(ctx) {
		log.Ctx(ctx).WarnContext(ctx, "SOC update request failed, retrying", slog.Duration("in", m.settings.SocUpdateRetry))
		m.socRetry.Schedule(ctx)
		return false
	}
	return true
}

func (m *Manager) recalculateEnergy(ctx context.Context) bool {
	capacity := m.settings.BatteryCapacityKWH
	if capacity <= 0 {
		if !m.capacityWarned {
			log.Ctx(ctx).WarnContext(ctx, "battery capacity not configured, skipping estimate")
			m.capacityWarned = true
		}
		return false
	}
	m.capacityWarned = false

	soc, ok := m.tracker.GetSoc()
	if !ok {
		return false
	}
	added, ok := m.tracker.GetAddedEnergy()
	if !ok {
		return false
	}

	energy := soc/100*capacity + added*m.settings.ChargingEfficiency
	est := types.Estimate{
		Timestamp:      m.clock.Now(),
		EnergyKWH:      energy,
		SocPercent:     energy * 100 / capacity,
		AddedEnergyKWH: added,
	}
	m.estimate = &est
	log.Ctx(ctx).DebugContext(
		ctx,
		"energy estimated",
		slog.Float64("energyKWH", est.EnergyKWH),
		slog.Float64("socPercent", est.SocPercent),
		slog.Float64("addedKWH", added),
	)
	for _, l := range m.listeners {
		l.EnergyEstimated(ctx, est)
	}
	return true
}

// CalculateEVSEState decides the charger mode and sends it to the charger if
// it differs from the last mode sent.
func (m *Manager) CalculateEVSEState(ctx context.Context) {
	if m.settings.ChargeMethod == types.ChargeMethodManual {
		log.Ctx(ctx).DebugContext(ctx, "manual charge method, not changing charger mode")
		return
	}
	var soc float64
	if m.state == types.SessionStateSocKnown {
		if m.estimate == nil {
			return
		}
		soc = m.estimate.SocPercent
	}

	decision := DecideChargerMode(m.state, soc, m.settings)
	if decision.Mode == types.ChargerModeUnknown || decision.Mode == m.lastMode {
		return
	}
	if err := m.setChargerMode(ctx, decision.Mode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set charger mode", slog.Any("error", err))
		return
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"charger mode changed",
		slog.String("mode", string(decision.Mode)),
		slog.String("explanation", decision.Explanation),
	)
}

func (m *Manager) setChargerMode(ctx context.Context, mode types.ChargerMode) error {
	if m.charger == nil {
		return errors.New("no charger configured")
	}
	if err := m.charger.SetChargerMode(ctx, mode); err != nil {
		return err
	}
	m.lastMode = mode
	return nil
}

// OverrideChargerMode switches to the manual charge method and sends mode to
// the charger.
func (m *Manager) OverrideChargerMode(ctx context.Context, mode types.ChargerMode) error {
	ctx = m.logCtx(ctx)
	m.settings.ChargeMethod = types.ChargeMethodManual
	if err := m.setChargerMode(ctx, mode); err != nil {
		return fmt.Errorf("failed to override charger mode: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "charger mode overridden", slog.String("mode", string(mode)))
	return nil
}

// UpdateSettings applies new settings and re-evaluates the charger mode.
func (m *Manager) UpdateSettings(ctx context.Context, settings types.Settings) {
	ctx = m.logCtx(ctx)
	m.settings = settings
	m.tracker.SetTolerances(settings.SocBeforeEnergy, settings.SocAfterEnergy)
	m.socTimeout.SetWait(settings.SocRequestTimeout)
	m.socNext.SetWait(settings.SocNextUpdate)
	m.socRetry.SetWait(settings.SocUpdateRetry)

	if m.state == types.SessionStateSocKnown {
		m.recalculateEnergy(ctx)
	}
	m.CalculateEVSEState(ctx)
}

// Settings returns the settings in use, including a manual override.
func (m *Manager) Settings() types.Settings {
	return m.settings
}

// State returns the session state.
func (m *Manager) State() types.SessionState {
	return m.state
}

// Estimate returns the latest estimate of the session.
func (m *Manager) Estimate() (types.Estimate, bool) {
	if m.estimate == nil {
		return types.Estimate{}, false
	}
	return *m.estimate, true
}

// ChargingActive reports whether a vehicle is plugged in and the charger has
// not been stopped.
func (m *Manager) ChargingActive() bool {
	return m.tracker.Connected() && m.lastMode != types.ChargerModeStopped
}

// Status returns a snapshot of the session.
func (m *Manager) Status() types.SessionStatus {
	st := types.SessionStatus{
		SessionID:      m.sessionID,
		State:          m.state,
		Connected:      m.tracker.Connected(),
		ChargingActive: m.ChargingActive(),
		ChargerMode:    m.lastMode,
		Settings:       m.settings,
	}
	if m.estimate != nil {
		est := *m.estimate
		st.Estimate = &est
	}
	if soc, ok := m.tracker.GetSoc(); ok {
		ts, _ := m.tracker.SocTime()
		st.Soc = &soc
		st.SocTime = &ts
	}
	return st
}
