package main

import (
	"fmt"

	"github.com/Strob0t/agentrelay/internal/config"
	"github.com/Strob0t/agentrelay/internal/domain/routing"
	"github.com/Strob0t/agentrelay/internal/service"
)

// ValidateCmd loads config and routing rules and reports problems.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.LoadFrom(cli.Config)
	if err != nil {
		return err
	}

	var table *routing.Table
	if cfg.Routing.RulesFile != "" {
		table, _, err = routing.LoadFromFile(cfg.Routing.RulesFile)
	} else {
		table, _, err = inlineRules(cfg.Routing)
	}
	if err != nil {
		return err
	}

	rules := table.Rules()
	if len(rules) == 0 {
		fmt.Println("warning: no routing rules, every task will fail as Unsupported")
	}
	directory := service.NewDirectory(cfg.Agents)
	if missing := directory.Missing(table.Agents()); len(missing) > 0 {
		return fmt.Errorf("routing rules name agents without endpoints: %v", missing)
	}
	for _, a := range directory.Entries() {
		fmt.Printf("agent %s -> %s\n", a.ID, a.Endpoint)
	}

	fmt.Printf("ok: %d agents, %d rules\n", len(cfg.Agents), len(rules))
	return nil
}
