// Command keypress is a headnod hook that answers a confirmed gesture with a
// keystroke, e.g. YES presses return and NO presses escape. It uses
// AppleScript on macOS and xdotool elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/ayusman/headnod/internal/hook"
)

// Binding is the key sent for one gesture.
type Binding struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"` // command, option, control, shift
}

// Config is the hook.json "config" object.
type Config struct {
	Bindings map[string]Binding `json:"bindings"`
}

// appleModifiers maps user-friendly modifier names to AppleScript equivalents.
var appleModifiers = map[string]string{
	"command": "command down",
	"cmd":     "command down",
	"option":  "option down",
	"alt":     "option down",
	"control": "control down",
	"ctrl":    "control down",
	"shift":   "shift down",
}

// xdoModifiers maps modifier names to xdotool key prefixes.
var xdoModifiers = map[string]string{
	"command": "super",
	"cmd":     "super",
	"option":  "alt",
	"alt":     "alt",
	"control": "ctrl",
	"ctrl":    "ctrl",
	"shift":   "shift",
}

func main() {
	resp := handle(os.Stdin, runtime.GOOS, run)
	json.NewEncoder(os.Stdout).Encode(resp)
}

// handle decodes one event and presses the bound key through press.
func handle(r io.Reader, goos string, press func(name string, args ...string) error) hook.Response {
	var ev hook.Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return failure(fmt.Sprintf("failed to decode event: %v", err))
	}

	var cfg Config
	if len(ev.Config) > 0 {
		if err := json.Unmarshal(ev.Config, &cfg); err != nil {
			return failure(fmt.Sprintf("failed to parse config: %v", err))
		}
	}
	b, ok := cfg.Bindings[ev.Gesture]
	if !ok || b.Key == "" {
		return failure(fmt.Sprintf("no key bound to %s", ev.Gesture))
	}

	name, args := keystrokeCommand(goos, b)
	if err := press(name, args...); err != nil {
		return failure(fmt.Sprintf("keystroke for %s failed: %v", ev.Gesture, err))
	}
	return hook.Response{Success: true}
}

// keystrokeCommand returns the command line that sends b on goos.
func keystrokeCommand(goos string, b Binding) (string, []string) {
	if goos == "darwin" {
		return "osascript", []string{"-e", buildKeystrokeScript(b.Key, b.Modifiers)}
	}

	parts := make([]string, 0, len(b.Modifiers)+1)
	for _, mod := range b.Modifiers {
		if m, ok := xdoModifiers[strings.ToLower(mod)]; ok {
			parts = append(parts, m)
		}
	}
	parts = append(parts, xdoKey(b.Key))
	return "xdotool", []string{"key", strings.Join(parts, "+")}
}

// buildKeystrokeScript generates an AppleScript for the given key and modifiers.
func buildKeystrokeScript(key string, modifiers []string) string {
	var mods []string
	for _, mod := range modifiers {
		if m, ok := appleModifiers[strings.ToLower(mod)]; ok {
			mods = append(mods, m)
		}
	}

	press := fmt.Sprintf(`keystroke "%s"`, key)
	if code, ok := appleKeyCodes[strings.ToLower(key)]; ok {
		press = fmt.Sprintf("key code %d", code)
	}
	if len(mods) == 0 {
		return fmt.Sprintf(`tell application "System Events" to %s`, press)
	}
	return fmt.Sprintf(`tell application "System Events" to %s using {%s}`, press, strings.Join(mods, ", "))
}

// appleKeyCodes holds named keys that keystroke cannot type.
var appleKeyCodes = map[string]int{
	"return": 36,
	"enter":  76,
	"tab":    48,
	"space":  49,
	"escape": 53,
	"left":   123,
	"right":  124,
	"down":   125,
	"up":     126,
}

func xdoKey(key string) string {
	switch strings.ToLower(key) {
	case "return", "enter":
		return "Return"
	case "escape", "esc":
		return "Escape"
	case "tab":
		return "Tab"
	case "space":
		return "space"
	case "left":
		return "Left"
	case "right":
		return "Right"
	case "up":
		return "Up"
	case "down":
		return "Down"
	}
	return key
}

func failure(msg string) hook.Response {
	return hook.Response{Success: false, Error: msg}
}

func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
