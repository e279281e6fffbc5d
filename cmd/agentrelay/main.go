// Command agentrelay routes analysis work to remote A2A agents and relays
// their progress events to waiting clients.
//
// Usage:
//
//	agentrelay serve --config agentrelay.yaml
//	agentrelay submit --server http://localhost:8080 alert.json
//	agentrelay validate --config agentrelay.yaml
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the relay server."`
	Submit   SubmitCmd   `cmd:"" help:"Submit a work unit to a running relay and follow its events."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration and routing rules."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to the YAML config file." default:"agentrelay.yaml" type:"path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("agentrelay %s\n", buildVersion())
	return nil
}

func buildVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentrelay"),
		kong.Description("A2A task orchestration and streaming relay."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
