package pod

import (
	"sync"
	"time"
)

// Cache holds the last-known device snapshot and the pending-command set.
// It is the single source of truth entities render from.
//
// Fetched state is written only by the reconciler, via ApplyFetched, which
// builds a fresh Snapshot and swaps the pointer under the lock. Readers get
// a copy of a complete snapshot, so a read never mixes fields from two poll
// cycles and never blocks on an in-flight poll.
//
// All methods are safe for concurrent use.
type Cache struct {
	mu          sync.RWMutex
	snap        *Snapshot // nil until the first successful poll
	lastContact time.Time
	pending     map[string]PendingCommand
}

// NewCache creates an empty cache. The snapshot stays unset until the first
// successful poll; the cache is ephemeral and rebuilt from the device after
// every setup.
func NewCache() *Cache {
	return &Cache{
		pending: make(map[string]PendingCommand),
	}
}

// Snapshot returns a copy of the last good device snapshot. ok is false
// before the first successful poll. The snapshot may be stale while the
// device is unreachable; staleness is visible via FetchedAt.
func (c *Cache) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap == nil {
		return Snapshot{}, false
	}
	return *c.snap, true
}

// View returns the last good snapshot with the pending desired-value
// overlay applied. This is what adapters render for controllable fields:
// a submitted target temperature shows immediately, even though the device
// has not confirmed it yet. One-shot actions have no overlay.
func (c *Cache) View() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap == nil {
		return Snapshot{}, false
	}

	view := *c.snap
	for _, cmd := range c.pending {
		if cmd.OneShot {
			continue
		}
		setFieldValue(&view, cmd.Scope, cmd.Field, cmd.Value)
	}
	return view, true
}

// LastContact returns when the device last answered a poll successfully.
// Zero before the first success.
func (c *Cache) LastContact() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastContact
}

// ApplyFetched merges a fetch report into the previous snapshot and swaps
// the result in atomically. Fields the device omitted keep their prior
// values; everything reported this cycle replaces the old value. Returns a
// copy of the new snapshot for observers.
func (c *Cache) ApplyFetched(report StateReport) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := Snapshot{}
	if c.snap != nil {
		next = *c.snap
	}
	next.FetchedAt = report.FetchedAt

	mergePod(&next.Pod, report.Pod)
	mergeSide(&next.Left, report.Left)
	mergeSide(&next.Right, report.Right)

	c.snap = &next
	c.lastContact = report.FetchedAt
	return next
}

// SetPending queues a command, replacing any queued command for the same
// scope+field. Latest wins: retry counters start over because the device
// has never seen the new value.
func (c *Cache) SetPending(cmd PendingCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[cmd.Key()] = cmd
}

// UpdatePending writes back reconciler bookkeeping (retries, last-sent) for
// a command still in flight. A command that was replaced or cleared since
// the reconciler picked it up is left alone, so a user's newer value is
// never clobbered by bookkeeping for the old one.
func (c *Cache) UpdatePending(cmd PendingCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.pending[cmd.Key()]
	if !ok || current.ID != cmd.ID {
		return
	}
	c.pending[cmd.Key()] = cmd
}

// ClearPending removes a command by key. Returns the removed command and
// whether it existed.
func (c *Cache) ClearPending(key string) (PendingCommand, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return cmd, ok
}

// PendingCommands returns a copy of the pending set.
func (c *Cache) PendingCommands() []PendingCommand {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cmds := make([]PendingCommand, 0, len(c.pending))
	for _, cmd := range c.pending {
		cmds = append(cmds, cmd)
	}
	return cmds
}

// PendingCount returns the number of queued commands.
func (c *Cache) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

func mergePod(dst *PodState, r PodReport) {
	if r.AwayMode != nil {
		dst.AwayMode = *r.AwayMode
	}
	if r.PrimeDaily != nil {
		dst.PrimeDaily = *r.PrimeDaily
	}
	if r.Priming != nil {
		dst.Priming = *r.Priming
	}
	if r.WaterLevelOK != nil {
		dst.WaterLevelOK = *r.WaterLevelOK
	}
	if r.LEDBrightness != nil {
		dst.LEDBrightness = *r.LEDBrightness
	}
	if r.WiFiStrength != nil {
		dst.WiFiStrength = *r.WiFiStrength
	}
	if r.HubVersion != nil {
		dst.HubVersion = *r.HubVersion
	}
	if r.FirmwareVersion != nil {
		dst.FirmwareVersion = *r.FirmwareVersion
	}
}

func mergeSide(dst *SideState, r SideReport) {
	if r.TargetTempF != nil {
		dst.TargetTempF = *r.TargetTempF
	}
	if r.CurrentTempF != nil {
		dst.CurrentTempF = *r.CurrentTempF
	}
	if r.Active != nil {
		dst.Active = *r.Active
	}
	if r.AlarmTime != nil {
		dst.Alarm.Time = *r.AlarmTime
	}
	if r.AlarmEnabled != nil {
		dst.Alarm.Enabled = *r.AlarmEnabled
	}
	if r.AlarmPattern != nil {
		dst.Alarm.Pattern = *r.AlarmPattern
	}
	if r.Vitals != nil {
		dst.Vitals = *r.Vitals
	}
}
