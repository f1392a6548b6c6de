package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

const schemaSource = `
import "list"

#Config: {
	logging?:    #Logging
	telemetry?:  #Telemetry
	hot_reload?: bool
	mqtt?:       #MQTT
	devices: [#Device, ...#Device]
}

#MQTT: {
	broker:        =~"^(tcp|ssl|ws|wss|mqtt)://.+"
	client_id?:    string
	topic_prefix?: string
	qos?:          0 | 1 | 2
	retain?:       bool
	username?:     string
	password?:     string
	timeout?:      string
}

#Logging: {
	level?:  "" | "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled"
	format?: "" | "json" | "text"
	loki?: {
		enabled?: bool
		url?:     string
		labels?: [string]: string
	}
}

#Telemetry: {
	enabled?:  bool
	provider?: "" | "prometheus"
	listen?:   string
}

#Device: {
	name:             =~"^[A-Za-z0-9_.-]+$"
	family:           "analog_input" | "inverter"
	endpoint:         #Endpoint
	function?:        "holding" | "input"
	max_read_length?: int & >=1 & <=125
	interval?:        string
	purposes?: [...("info" | "data")]
	channels?: [...#Channel] & list.MaxItems(8)
	disable?: bool
}

#Endpoint: {
	mode?:         "tcp" | "rtu" | "sim"
	address:       string & !=""
	unit_id?:      int & >=0 & <=255
	timeout?:      string
	baud_rate?:    int & >0
	data_bits?:    5 | 6 | 7 | 8
	parity?:       "N" | "E" | "O"
	stop_bits?:    1 | 2
	seed?:         int
	failure_rate?: number & >=0 & <=1
}

#Channel: {
	input:       #Input
	expression?: string
	places?:     int & >=0 & <=10
}

#Input: "mv_150" | "mv_pm150" | "v_pm10" | "ma_4_20" |
	"thermocouple_j" | "thermocouple_k" | "thermocouple_e" | "custom"
`

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		compiled := schemaCtx.CompileString(schemaSource, cue.Filename("regio-schema.cue"))
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaValue = compiled.LookupPath(cue.ParsePath("#Config"))
		schemaErr = schemaValue.Err()
	})
	return schemaCtx, schemaValue, schemaErr
}

// Validate checks raw YAML against the configuration schema.
func Validate(name string, raw []byte) error {
	ctx, schema, err := loadSchema()
	if err != nil {
		return err
	}
	file, err := cueyaml.Extract(name, raw)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", name, err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("build config %s: %w", name, err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate config %s: %s", name, cueerrors.Details(err, nil))
	}
	return nil
}
