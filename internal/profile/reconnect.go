package profile

import (
	"fmt"
	"log"
	"time"

	"tether/internal/events"
)

// ReconnectFunc is the caller-supplied predicate that attempts one
// reconnection and reports whether it worked. An in-flight call runs to
// completion even if the loop is stopped mid-call.
type ReconnectFunc func() bool

// transition is what a reconnect loop reports back to the manager. The
// loop never mutates shared state itself; the manager's consumer
// goroutine applies transitions and publishes events.
type transition struct {
	deviceID string
	success  bool
	attempts int
	errMsg   string
}

type reconnectLoop struct {
	deviceID string
	cancel   chan struct{}
	done     chan struct{}
}

func (l *reconnectLoop) stop() {
	close(l.cancel)
	<-l.done
}

// StartAutoReconnect launches the background reconnect loop for a
// device. It is a no-op when the associated profile has auto-reconnect
// disabled. At most one loop runs per device id: starting a second one
// first cancels the existing loop.
func (m *Manager) StartAutoReconnect(deviceID string, fn ReconnectFunc) error {
	p, ok := m.DeviceProfile(deviceID)
	if !ok {
		return fmt.Errorf("%w: device %s has no associated profile", ErrNotFound, deviceID)
	}
	if !p.AutoReconnect {
		return nil
	}

	interval := time.Duration(p.ReconnectIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}

	m.loopsMu.Lock()
	if existing, ok := m.loops[deviceID]; ok {
		existing.stop()
		delete(m.loops, deviceID)
	}
	loop := &reconnectLoop{
		deviceID: deviceID,
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.loops[deviceID] = loop
	m.loopsMu.Unlock()

	go m.runReconnectLoop(loop, interval, fn)

	log.Printf("profile: auto-reconnect started for %s (every %s)", deviceID, interval)
	return nil
}

// StopAutoReconnect cancels a device's loop. Safe to call when none is
// running.
func (m *Manager) StopAutoReconnect(deviceID string) {
	m.loopsMu.Lock()
	loop, ok := m.loops[deviceID]
	if ok {
		delete(m.loops, deviceID)
	}
	m.loopsMu.Unlock()

	if ok {
		loop.stop()
		log.Printf("profile: auto-reconnect stopped for %s", deviceID)
	}
}

// ReconnectActive reports whether a loop is running for the device.
func (m *Manager) ReconnectActive(deviceID string) bool {
	m.loopsMu.Lock()
	defer m.loopsMu.Unlock()
	_, ok := m.loops[deviceID]
	return ok
}

// runReconnectLoop wakes on a fixed interval and, while the device is
// disconnected, invokes the reconnect predicate. There is no backoff
// and no attempt ceiling: retries continue until stopped or connected.
func (m *Manager) runReconnectLoop(loop *reconnectLoop, interval time.Duration, fn ReconnectFunc) {
	defer close(loop.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-loop.cancel:
			return
		case <-ticker.C:
		}

		status, ok := m.ConnectionStatus(loop.deviceID)
		if !ok || status.Connected {
			continue
		}

		attempts++
		log.Printf("profile: reconnect attempt %d for %s", attempts, loop.deviceID)

		tr := transition{deviceID: loop.deviceID, attempts: attempts}
		if fn() {
			tr.success = true
			attempts = 0
		} else {
			tr.errMsg = "reconnect failed"
		}

		select {
		case m.transitions <- tr:
		case <-loop.cancel:
			return
		}
	}
}

// consumeTransitions serializes reconnect-loop results into the status
// table and the event bus.
func (m *Manager) consumeTransitions() {
	defer m.consumerWG.Done()
	for {
		select {
		case tr := <-m.transitions:
			m.applyTransition(tr)
		case <-m.closed:
			// Drain anything the loops managed to queue.
			for {
				select {
				case tr := <-m.transitions:
					m.applyTransition(tr)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) applyTransition(tr transition) {
	m.statusMu.Lock()
	status, ok := m.statuses[tr.deviceID]
	if !ok {
		m.statusMu.Unlock()
		return
	}
	if tr.success {
		status.Connected = true
		status.LastSeen = time.Now().UTC()
		status.ConnectionAttempts = 0
		status.LastError = ""
	} else {
		status.ConnectionAttempts = tr.attempts
		status.LastError = tr.errMsg
	}
	m.statusMu.Unlock()

	if m.bus == nil {
		return
	}
	if tr.success {
		m.bus.Publish(events.Event{
			Type:     events.ReconnectSucceeded,
			Severity: events.SeverityInfo,
			DeviceID: tr.deviceID,
			Message:  fmt.Sprintf("device %s reconnected after %d attempt(s)", tr.deviceID, tr.attempts),
		})
	} else {
		m.bus.Publish(events.Event{
			Type:     events.ReconnectFailed,
			Severity: events.SeverityWarning,
			DeviceID: tr.deviceID,
			Message:  fmt.Sprintf("reconnect attempt %d failed for device %s", tr.attempts, tr.deviceID),
		})
	}
}
