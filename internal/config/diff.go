package config

import "reflect"

// Changed lists the top-level sections that differ between two configs.
// Tokens are compared but never returned as values.
func Changed(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out []string
	add := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, name)
		}
	}
	add("telegram", oldCfg.Telegram, newCfg.Telegram)
	add("logging", oldCfg.Logging, newCfg.Logging)
	add("storage", oldCfg.Storage, newCfg.Storage)
	add("scheduler", oldCfg.Scheduler, newCfg.Scheduler)
	add("delivery", oldCfg.Delivery, newCfg.Delivery)
	add("summary", oldCfg.Summary, newCfg.Summary)
	add("pulse", oldCfg.Pulse, newCfg.Pulse)
	add("router", oldCfg.Router, newCfg.Router)
	add("ops", oldCfg.Ops, newCfg.Ops)
	add("tasks", oldCfg.Tasks, newCfg.Tasks)
	add("messages", oldCfg.Messages, newCfg.Messages)
	return out
}

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"logging": true}
