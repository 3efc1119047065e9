/*
Package config loads event bus host configuration.

# Overview

Config wraps a decoded YAML, JSON or TOML document and provides typed
accessors that return a default when a key is missing or has the wrong
type. Settings is the typed view used by the eventbusd host.

# File Layout

	log:
	  level: info
	  format: text
	store:
	  driver: sqlite          # sqlite, postgres or memory
	  path: events.db
	  compaction_interval: 5s # 0 disables the retention sweep
	  retention: 10s
	receivers:
	  - name: console
	    kind: console
	    subscriptions:
	      - name: workflow
	        groups: [n8n.workflow]
	  - name: audit
	    kind: file
	    file: audit.log
	    subscriptions:
	      - name: started
	        names: [n8n.core.started]
	relays:
	  nats:
	    url: nats://localhost:4222
	archive:
	  s3:
	    bucket: my-bucket

# Environment

Every scalar setting can be overridden by an EVENTBUS_* variable, for
example EVENTBUS_STORE_DRIVER or EVENTBUS_NATS_URL. Load applies the file,
then the environment, then Validate.

	settings, err := config.Load("eventbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
