/*
Package config loads dispatcher settings from YAML or JSON.

# Overview

Settings holds every tunable of an emitter.Dispatcher. Files are decoded
into a generic map first and then read key by key, so missing keys keep
their defaults and loosely typed values are coerced where it is safe.

# Basic Usage

	s, err := config.FromFile("emitter.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	d := emitter.New(emitter.WithSettings(s))

A settings file looks like:

	max_listeners: 200
	history_enabled: true
	history_size: 500
	async_concurrency: 16
	async_timeout: 2s
	leak_threshold: 50
	leak_interval: 30s
	leak_window: 5
	leak_report_interval: 1m
	warn_interval: 1s

# Type Coercion

Durations accept:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds

Integers accept float64 values without a fractional part, which is how
encoding/json decodes every number.

Unknown keys are ignored. Values of the wrong type fall back to the default.
*/
package config
