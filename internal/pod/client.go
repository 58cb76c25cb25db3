package pod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Firmware API endpoints.
const (
	deviceStatusEndpoint = "/api/deviceStatus"
	settingsEndpoint     = "/api/settings"
	vitalsEndpoint       = "/api/metrics/vitals/summary"
	primeEndpoint        = "/api/prime"
	rebootEndpoint       = "/api/reboot"
	executeEndpoint      = "/api/execute"
	schedulesEndpoint    = "/api/schedules"
)

// maxResponseBytes bounds how much of a device response is read.
// Firmware responses are small; anything larger is garbage.
const maxResponseBytes = 1 << 20

// Client is the low-level transport to the pod firmware API.
//
// The host is fixed at construction and never re-resolved per call. The
// client does no caching and no retries; every failure is classified so the
// reconciler can apply distinct policies per class. All calls are bounded
// by the per-request timeout and honour context cancellation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a device client for the pod at host.
//
// Parameters:
//   - host: Base URL of the firmware API, e.g. "http://10.0.0.42:3000"
//   - timeout: Per-call timeout
//
// Returns:
//   - *Client: Ready for use; no connection is made until the first call
func NewClient(host string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(host, "/"),
		// Timeout is enforced per call via context so cancellation and
		// timeout are distinguishable; the http.Client itself is unbounded.
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Host returns the configured base URL.
func (c *Client) Host() string {
	return c.baseURL
}

// wireStatus is the shape of GET /api/deviceStatus.
// All fields are optional: firmware revisions differ in what they report,
// and a missing field must not fail the poll.
type wireStatus struct {
	Left         *wireSideStatus `json:"left"`
	Right        *wireSideStatus `json:"right"`
	IsPriming    *bool           `json:"isPriming"`
	WaterLevel   *bool           `json:"waterLevel"`
	WiFiStrength *int            `json:"wifiStrength"`
	HubVersion   *string         `json:"hubVersion"`
	FreeSleep    *struct {
		Version *string `json:"version"`
	} `json:"freeSleep"`
	Settings *struct {
		LEDBrightness *int `json:"ledBrightness"`
	} `json:"settings"`
}

type wireSideStatus struct {
	CurrentTemperatureF *float64 `json:"currentTemperatureF"`
	TargetTemperatureF  *float64 `json:"targetTemperatureF"`
	IsOn                *bool    `json:"isOn"`
}

// wireSettings is the shape of GET /api/settings.
type wireSettings struct {
	AwayMode      *bool             `json:"awayMode"`
	PrimePodDaily *bool             `json:"primePodDaily"`
	Left          *wireSideSettings `json:"left"`
	Right         *wireSideSettings `json:"right"`
}

type wireSideSettings struct {
	Alarm *struct {
		Time      *string `json:"time"`
		Enabled   *bool   `json:"enabled"`
		Vibration *string `json:"vibration"`
	} `json:"alarm"`
}

// wireVitals is the shape of GET /api/metrics/vitals/summary.
type wireVitals struct {
	AvgHeartRate     *float64 `json:"avgHeartRate"`
	AvgBreathingRate *float64 `json:"avgBreathingRate"`
	AvgHRV           *float64 `json:"avgHRV"`
	Timestamp        *string  `json:"timestamp"`
}

// FetchState reads the full device state: status, settings, and per-side
// vitals.
//
// Status and settings are required; a transport or decode failure on either
// fails the fetch with a classified error. Vitals are best-effort: the
// metrics endpoint on real firmware fails independently of the control
// plane, so a vitals error leaves that side's Vitals nil in the report and
// the cache keeps the prior measurement.
//
// Parameters:
//   - ctx: Cancels the in-flight calls (integration unload)
//
// Returns:
//   - StateReport: Everything the device reported, omissions as nil fields
//   - error: ErrUnreachable, ErrTimeout, or ErrMalformedResponse
func (c *Client) FetchState(ctx context.Context) (StateReport, error) {
	var report StateReport

	var status wireStatus
	if err := c.getJSON(ctx, deviceStatusEndpoint, &status); err != nil {
		return StateReport{}, fmt.Errorf("fetching device status: %w", err)
	}

	var settings wireSettings
	if err := c.getJSON(ctx, settingsEndpoint, &settings); err != nil {
		return StateReport{}, fmt.Errorf("fetching settings: %w", err)
	}

	report.Pod = PodReport{
		Priming:      status.IsPriming,
		WaterLevelOK: status.WaterLevel,
		WiFiStrength: status.WiFiStrength,
		HubVersion:   status.HubVersion,
		AwayMode:     settings.AwayMode,
		PrimeDaily:   settings.PrimePodDaily,
	}
	if status.FreeSleep != nil {
		report.Pod.FirmwareVersion = status.FreeSleep.Version
	}
	if status.Settings != nil {
		report.Pod.LEDBrightness = status.Settings.LEDBrightness
	}

	report.Left = buildSideReport(status.Left, settings.Left)
	report.Right = buildSideReport(status.Right, settings.Right)

	// Vitals are best-effort per side.
	for _, side := range []Side{SideLeft, SideRight} {
		var w wireVitals
		if err := c.getJSON(ctx, vitalsEndpoint+"?side="+string(side), &w); err != nil {
			continue
		}
		report.SideReport(side).Vitals = buildVitals(w)
	}

	report.FetchedAt = time.Now().UTC()
	return report, nil
}

// SendCommand writes one desired value to the device.
//
// Parameters:
//   - ctx: Cancels the in-flight call
//   - cmd: A validated pending command
//
// Returns:
//   - error: ErrUnreachable, ErrTimeout, or ErrRejected
func (c *Client) SendCommand(ctx context.Context, cmd PendingCommand) error {
	endpoint, payload, err := commandRequest(cmd)
	if err != nil {
		return err
	}
	return c.postJSON(ctx, endpoint, payload)
}

// Execute passes an arbitrary command string straight through to the
// firmware's execute endpoint and returns whatever it answers. This is an
// escape hatch for firmware features the typed surface does not model.
func (c *Client) Execute(ctx context.Context, command, value string) (map[string]any, error) {
	body := map[string]string{"command": command}
	if value != "" {
		body["value"] = value
	}

	data, err := c.do(ctx, http.MethodPost, executeEndpoint, body)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, nil
	}
	var response map[string]any
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("%w: decoding execute response: %w", ErrMalformedResponse, err)
	}
	return response, nil
}

// SetSchedule writes one side's nightly program for the given days of the
// week. The caller validates through ValidateSchedule first; this method
// only moves bytes.
func (c *Client) SetSchedule(ctx context.Context, side Side, days []string, sched SideSchedule) error {
	payload := map[string]any{
		"side": string(side),
		"days": days,
		"schedule": map[string]any{
			"power": map[string]any{
				"on":            sched.PowerOn,
				"off":           sched.PowerOff,
				"onTemperature": sched.OnTemperatureF,
			},
			"temperatures": sched.Temperatures,
		},
	}
	return c.postJSON(ctx, schedulesEndpoint, payload)
}

// Ping checks the device answers at all. Used by setup validation.
func (c *Client) Ping(ctx context.Context) error {
	var status wireStatus
	return c.getJSON(ctx, deviceStatusEndpoint, &status)
}

// commandRequest maps a command to its firmware endpoint and payload.
func commandRequest(cmd PendingCommand) (string, any, error) {
	switch cmd.Field {
	case FieldPrime:
		return primeEndpoint, struct{}{}, nil
	case FieldReboot:
		return rebootEndpoint, struct{}{}, nil
	case FieldTargetTemp:
		return deviceStatusEndpoint, map[string]any{
			string(cmd.Scope): map[string]any{"targetTemperatureF": cmd.Value},
		}, nil
	case FieldSideActive:
		return deviceStatusEndpoint, map[string]any{
			string(cmd.Scope): map[string]any{"isOn": cmd.Value},
		}, nil
	case FieldAwayMode:
		return settingsEndpoint, map[string]any{"awayMode": cmd.Value}, nil
	case FieldPrimeDaily:
		return settingsEndpoint, map[string]any{"primePodDaily": cmd.Value}, nil
	case FieldLEDBrightness:
		return settingsEndpoint, map[string]any{"ledBrightness": cmd.Value}, nil
	case FieldAlarmTime, FieldAlarmEnabled, FieldAlarmPattern:
		key := map[Field]string{
			FieldAlarmTime:    "time",
			FieldAlarmEnabled: "enabled",
			FieldAlarmPattern: "vibration",
		}[cmd.Field]
		return settingsEndpoint, map[string]any{
			string(cmd.Scope): map[string]any{
				"alarm": map[string]any{key: cmd.Value},
			},
		}, nil
	}
	return "", nil, fmt.Errorf("%w: %s/%s", ErrUnknownField, cmd.Scope, cmd.Field)
}

// getJSON fetches an endpoint and decodes into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

// postJSON posts a payload, discarding any response body.
func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) error {
	_, err := c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

// do performs one time-boxed HTTP call and classifies any failure.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrRejected, method, endpoint, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnreachable, method, endpoint, resp.StatusCode)
	}
}

// classifyTransportError sorts a transport failure into the error taxonomy.
// A deadline that expired on the per-call timeout is a device timeout; the
// parent context cancelling means unload, which is passed through untouched.
func classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

func buildSideReport(status *wireSideStatus, settings *wireSideSettings) SideReport {
	var r SideReport
	if status != nil {
		r.CurrentTempF = status.CurrentTemperatureF
		r.TargetTempF = status.TargetTemperatureF
		r.Active = status.IsOn
	}
	if settings != nil && settings.Alarm != nil {
		r.AlarmTime = settings.Alarm.Time
		r.AlarmEnabled = settings.Alarm.Enabled
		r.AlarmPattern = settings.Alarm.Vibration
	}
	return r
}

func buildVitals(w wireVitals) *Vitals {
	// A summary with no numbers at all is treated as absent.
	if w.AvgHeartRate == nil && w.AvgBreathingRate == nil && w.AvgHRV == nil {
		return nil
	}

	v := &Vitals{}
	if w.AvgHeartRate != nil {
		v.HeartRate = *w.AvgHeartRate
	}
	if w.AvgBreathingRate != nil {
		v.BreathingRate = *w.AvgBreathingRate
	}
	if w.AvgHRV != nil {
		v.HRV = *w.AvgHRV
	}
	if w.Timestamp != nil {
		if ts, err := time.Parse(time.RFC3339, *w.Timestamp); err == nil {
			v.MeasuredAt = ts
		}
	}
	return v
}
