package vrrp

import (
	"sync"
	"sync/atomic"
	"time"
)

// timerService owns the two self-rearming timers of spec.md §4.4: the
// advertisement timer (Master only, fires GenAdvert every
// advert_interval) and the master-down timer (Backup/Init only).
//
// The master-down timer escalates over two consecutive ticks without
// an intervening Advert: the first tick sets downFlag and emits
// MasterDownExpiry (a soft signal the FSM logs but does not act on),
// the second tick finds downFlag already set and emits MasterDown,
// which the FSM treats as the real failover trigger. Any legitimate
// Advert clears downFlag and re-arms the full interval via
// StartMasterDownTimer.
//
// Grounded on original_source/src/timers.rs's tokio::timer::Interval
// plus down-flag gate, translated to Go's stdlib self-rearming
// time.AfterFunc in the manner of govrrp's virtual_router.go timer
// goroutines (no third-party scheduler needed for a single periodic
// tick per VR).
type timerService struct {
	vr *VirtualRouter

	mu         sync.Mutex
	advert     *time.Timer
	masterDown *time.Timer

	masterDownInterval time.Duration
	downFlag           atomic.Bool
	stopped            atomic.Bool
}

func newTimerService(vr *VirtualRouter) *timerService {
	return &timerService{vr: vr}
}

func (t *timerService) send(ev Event) {
	if t.stopped.Load() {
		return
	}
	select {
	case t.vr.Inbox <- ev:
	default:
		t.vr.Log.Warnw("inbox full, dropping timer event", "kind", ev.Kind.String())
	}
}

// StartAdvertTimer (re)arms the advertisement timer at interval.
func (t *timerService) StartAdvertTimer(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startAdvertLocked(interval)
}

func (t *timerService) startAdvertLocked(interval time.Duration) {
	if t.advert != nil {
		t.advert.Stop()
	}
	t.advert = time.AfterFunc(interval, func() {
		t.send(Event{Kind: EvGenAdvert})
		t.StartAdvertTimer(interval)
	})
}

// StopAdvertTimer disarms the advertisement timer.
func (t *timerService) StopAdvertTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.advert != nil {
		t.advert.Stop()
		t.advert = nil
	}
}

// StartMasterDownTimer (re)arms the master-down timer at interval,
// clearing any pending down-flag so a fresh two-tick escalation
// begins from this point.
func (t *timerService) StartMasterDownTimer(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.masterDownInterval = interval
	t.downFlag.Store(false)
	if t.masterDown != nil {
		t.masterDown.Stop()
	}
	t.masterDown = time.AfterFunc(interval, t.onMasterDownTick)
}

// ResetMasterDownTimer is an alias for StartMasterDownTimer; the FSM
// itself calls StartMasterDownTimer when reacting to a legitimate
// Advert.
func (t *timerService) ResetMasterDownTimer(interval time.Duration) {
	t.StartMasterDownTimer(interval)
}

func (t *timerService) onMasterDownTick() {
	if t.downFlag.CompareAndSwap(false, true) {
		t.send(Event{Kind: EvMasterDownExpiry})
	} else {
		t.send(Event{Kind: EvMasterDown})
	}

	t.mu.Lock()
	interval := t.masterDownInterval
	if !t.stopped.Load() {
		t.masterDown = time.AfterFunc(interval, t.onMasterDownTick)
	}
	t.mu.Unlock()
}

// StopMasterDownTimer disarms the master-down timer and clears the
// down-flag.
func (t *timerService) StopMasterDownTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.masterDown != nil {
		t.masterDown.Stop()
		t.masterDown = nil
	}
	t.downFlag.Store(false)
}

// Stop disarms both timers permanently; subsequent ticks already in
// flight are suppressed by the stopped flag.
func (t *timerService) Stop() {
	t.stopped.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.advert != nil {
		t.advert.Stop()
		t.advert = nil
	}
	if t.masterDown != nil {
		t.masterDown.Stop()
		t.masterDown = nil
	}
}
