// Package notify raises a desktop notification, used by the watch daemon
// to flag runs that detected a defect.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Send raises a notification with the platform's native mechanism:
// notify-send on Linux, osascript on macOS.
func Send(title, message string) error {
	switch runtime.GOOS {
	case "darwin":
		return sendOsascript(title, message)
	default:
		return sendNotifySend(title, message)
	}
}

func sendNotifySend(title, message string) error {
	cmd := exec.Command("notify-send", "--app-name=missioncheck", title, message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func sendOsascript(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
