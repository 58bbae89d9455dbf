// Package templates embeds the default config and example scenario files.
package templates

import "embed"

//go:embed missioncheck.yaml scenario.cfg mission.txt
var FS embed.FS
