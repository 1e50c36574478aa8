// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// breakerDefaults is the per-stage circuit breaker policy table. Thresholds
// reflect each dependency's blast radius and recovery speed: the workflow
// engine is slow to recover, delivery providers flap and recover quickly.
var breakerDefaults = []struct {
	stage           string
	threshold       int
	recoveryTimeout time.Duration
}{
	{"preprocessing", 5, 60 * time.Second},
	{"business_rules", 3, 30 * time.Second},
	{"langgraph_workflow", 3, 120 * time.Second},
	{"postprocessing", 5, 60 * time.Second},
	{"delivery", 10, 30 * time.Second},
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with REPLYLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or REPLYLANE_DATA_DATABASE_SOURCE: MySQL connection string
//   - HANDOFF_CONTACT_PHONE or REPLYLANE_PIPELINE_HANDOFF_CONTACT_PHONE:
//     human-escalation contact used in handoff messages
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with REPLYLANE_ prefix
	v.SetEnvPrefix("REPLYLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without REPLYLANE_ prefix) for
	// compatibility with existing deployments
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "REPLYLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REPLYLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("pipeline.handoff.contact_phone", "HANDOFF_CONTACT_PHONE", "REPLYLANE_PIPELINE_HANDOFF_CONTACT_PHONE")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Pipeline: &Pipeline{
			WorkflowTimeout:    durationpb.New(v.GetDuration("pipeline.workflow_timeout")),
			SlaTargetMs:        v.GetInt64("pipeline.sla_target_ms"),
			PreprocessCacheTtl: durationpb.New(v.GetDuration("pipeline.preprocess_cache_ttl")),
			Handoff: &Pipeline_Handoff{
				ContactPhone: v.GetString("pipeline.handoff.contact_phone"),
				Availability: v.GetString("pipeline.handoff.availability"),
			},
			Collaborators: &Pipeline_Collaborators{
				PreprocessorUrl:  v.GetString("pipeline.collaborators.preprocessor_url"),
				RulesUrl:         v.GetString("pipeline.collaborators.rules_url"),
				WorkflowUrl:      v.GetString("pipeline.collaborators.workflow_url"),
				PostprocessorUrl: v.GetString("pipeline.collaborators.postprocessor_url"),
				Timeout:          durationpb.New(v.GetDuration("pipeline.collaborators.timeout")),
			},
			Breakers: loadBreakers(v),
		},
		Sla: &SLA{
			ThresholdMs:        v.GetFloat64("sla.threshold_ms"),
			WarningThresholdMs: v.GetFloat64("sla.warning_threshold_ms"),
			WindowSize:         v.GetInt("sla.window_size"),
			RetentionDays:      v.GetInt("sla.retention_days"),
			SummaryCacheTtl:    durationpb.New(v.GetDuration("sla.summary_cache_ttl")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// loadBreakers reads per-stage breaker policies, falling back to the policy
// table for stages the config file does not mention.
func loadBreakers(v *viper.Viper) []*Pipeline_Breaker {
	breakers := make([]*Pipeline_Breaker, 0, len(breakerDefaults))
	for _, d := range breakerDefaults {
		prefix := "pipeline.breakers." + d.stage
		b := &Pipeline_Breaker{
			Stage:            d.stage,
			FailureThreshold: d.threshold,
			RecoveryTimeout:  durationpb.New(d.recoveryTimeout),
		}
		if v.IsSet(prefix + ".failure_threshold") {
			b.FailureThreshold = v.GetInt(prefix + ".failure_threshold")
		}
		if v.IsSet(prefix + ".recovery_timeout") {
			b.RecoveryTimeout = durationpb.New(v.GetDuration(prefix + ".recovery_timeout"))
		}
		breakers = append(breakers, b)
	}
	return breakers
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 1*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Pipeline defaults
	v.SetDefault("pipeline.workflow_timeout", 30*time.Second)
	v.SetDefault("pipeline.sla_target_ms", 3000)
	v.SetDefault("pipeline.preprocess_cache_ttl", 5*time.Minute)
	v.SetDefault("pipeline.handoff.availability", "Mon-Fri 9:00-18:00")
	v.SetDefault("pipeline.collaborators.timeout", 10*time.Second)

	// SLA defaults
	v.SetDefault("sla.threshold_ms", 3000)
	v.SetDefault("sla.warning_threshold_ms", 2000)
	v.SetDefault("sla.window_size", 1000)
	v.SetDefault("sla.retention_days", 30)
	v.SetDefault("sla.summary_cache_ttl", 30*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Handoff messages are user-visible; a missing contact phone would ship
	// an escalation path nobody can follow
	if bc.Pipeline == nil || bc.Pipeline.Handoff == nil || bc.Pipeline.Handoff.ContactPhone == "" {
		missingFields = append(missingFields, "pipeline.handoff.contact_phone (HANDOFF_CONTACT_PHONE)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
