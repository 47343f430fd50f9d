package app

import (
	"os"
	"path/filepath"
)

// Paths holds all resolved locations under the issuepilot home directory.
type Paths struct {
	Home     string // .issuepilot directory
	Etc      string // .issuepilot/etc
	Var      string // .issuepilot/var
	StateDir string // .issuepilot/var/state

	// Key files
	Setting  string // .issuepilot/etc/setting.yaml
	ErrorLog string // .issuepilot/var/log/errors.ndjson
	AgentLog string // .issuepilot/var/log/agent.log
}

// ResolvePaths builds all paths from the given home directory. An empty home
// falls back to the IP_HOME environment variable, then to ".issuepilot".
func ResolvePaths(home string) Paths {
	if home == "" {
		home = os.Getenv("IP_HOME")
	}
	if home == "" {
		home = ".issuepilot"
	}

	p := Paths{
		Home: home,
		Etc:  filepath.Join(home, "etc"),
		Var:  filepath.Join(home, "var"),
	}
	p.StateDir = filepath.Join(p.Var, "state")
	p.Setting = filepath.Join(p.Etc, "setting.yaml")
	p.ErrorLog = filepath.Join(p.Var, "log", "errors.ndjson")
	p.AgentLog = filepath.Join(p.Var, "log", "agent.log")
	return p
}
