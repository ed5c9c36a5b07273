// Package config loads the drillstream configuration.
//
// Configuration is built in layers:
//
//  1. Default values
//  2. Files added with AddLayer, JSON or YAML by extension
//  3. DRILLSTREAM_* environment variables
//
// and validated as a whole, so every problem is reported at once:
//
//	loader := config.NewLoader()
//	cfg, err := loader.LoadFile("drillstream.yaml")
//	if err != nil {
//		return err
//	}
//
// Durations accept Go syntax ("90s", "5m") plus a day unit ("2d"). Threshold
// bounds accept numbers or numeric strings and keep their exact decimal value.
//
// A minimal YAML file:
//
//	bus:
//	  kind: mqtt
//	  mqtt:
//	    broker: tcp://broker:1883
//	database:
//	  driver: pgx
//	  dsn: postgres://drill:secret@db:5432/drill
//	thresholds:
//	  seed:
//	    - tag: WOB
//	      min: 0
//	      max: 25.5
//	    - tag: SPP
//	      max: "5000.125"
//
// Recognised environment overrides: BUS_KIND, MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD, NATS_URL, NATS_USERNAME, NATS_PASSWORD,
// NATS_TOKEN, DATABASE_DRIVER, DATABASE_DSN, INGEST_WORKERS,
// INGEST_QUEUE_SIZE, INGEST_TIMEZONE, INGEST_STORE_TIMEOUT,
// THRESHOLDS_CACHE_TTL, LIVE_ADDR, LIVE_PATH, LIVE_ALLOWED_ORIGINS,
// METRICS_ENABLED, METRICS_ADDR, LOG_LEVEL and LOG_FORMAT, each prefixed
// with DRILLSTREAM_.
package config
