// Package tray provides the system tray menu of the live recognizer.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Callbacks are invoked from the tray's event loop. Any may be nil.
type Callbacks struct {
	OnToggle func(enabled bool)
	OnReset  func()
	// OnTrial records an accuracy trial of the last decision against the
	// gesture the operator says they performed.
	OnTrial    func(expected string)
	OnSettings func()
	OnQuit     func()
}

// Tray manages the system tray icon and menu.
type Tray struct {
	callbacks Callbacks
	gestures  []string
	enabled   bool
	mu        sync.RWMutex

	menuToggle      *systray.MenuItem
	menuLastGesture *systray.MenuItem
	menuState       *systray.MenuItem
}

// New creates a tray. gestures lists the labels offered as trial marks.
func New(gestures []string, callbacks Callbacks) *Tray {
	return &Tray{
		callbacks: callbacks,
		gestures:  gestures,
		enabled:   true,
	}
}

// Run starts the system tray. Blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("headnod")
	systray.SetTooltip("Head gesture recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle recognition")
	t.mu.Unlock()

	systray.AddSeparator()

	t.menuState = systray.AddMenuItem("Buffering", "Live buffer state")
	t.menuState.Disable()
	t.menuLastGesture = systray.AddMenuItem("Last: none", "Last decided gesture")
	t.menuLastGesture.Disable()
	menuReset := systray.AddMenuItem("Reset buffer", "Discard buffered frames")

	systray.AddSeparator()

	menuTrial := systray.AddMenuItem("Record trial", "Mark the last decision")
	trialItems := make([]*systray.MenuItem, len(t.gestures))
	for i, g := range t.gestures {
		trialItems[i] = menuTrial.AddSubMenuItem("I did "+g, "Record a trial expecting "+g)
	}

	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Status...", "Open the status page")
	menuQuit := systray.AddMenuItem("Quit", "Quit headnod")

	for i, item := range trialItems {
		go func(expected string, item *systray.MenuItem) {
			for range item.ClickedCh {
				if t.callbacks.OnTrial != nil {
					t.callbacks.OnTrial(expected)
				}
			}
		}(t.gestures[i], item)
	}

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuReset.ClickedCh:
				if t.callbacks.OnReset != nil {
					t.callbacks.OnReset()
				}
			case <-menuSettings.ClickedCh:
				if t.callbacks.OnSettings != nil {
					t.callbacks.OnSettings()
				}
			case <-menuQuit.ClickedCh:
				if t.callbacks.OnQuit != nil {
					t.callbacks.OnQuit()
				}
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	t.mu.Unlock()

	if t.callbacks.OnToggle != nil {
		t.callbacks.OnToggle(enabled)
	}
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "Disable"
	}
	return "Enable"
}

// SetLastGesture updates the last decision shown in the menu.
func (t *Tray) SetLastGesture(name string, confidence float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuLastGesture != nil {
		t.menuLastGesture.SetTitle(fmt.Sprintf("Last: %s (%.0f%%)", name, confidence*100))
	}
}

// SetState updates the buffer state shown in the menu.
func (t *Tray) SetState(state string, buffered, length int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuState != nil {
		t.menuState.SetTitle(fmt.Sprintf("%s %d/%d", state, buffered, length))
	}
}

// IsEnabled returns whether recognition is enabled.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}
