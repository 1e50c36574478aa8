package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration object.
type Bootstrap struct {
	Server   *Server
	Data     *Data
	Pipeline *Pipeline
	Sla      *SLA
	Log      *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds datastore configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the MySQL configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds the Redis configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Pipeline holds message-pipeline configuration.
type Pipeline struct {
	WorkflowTimeout    *durationpb.Duration
	SlaTargetMs        int64
	PreprocessCacheTtl *durationpb.Duration
	Handoff            *Pipeline_Handoff
	Collaborators      *Pipeline_Collaborators
	Breakers           []*Pipeline_Breaker
}

// Pipeline_Handoff holds the human-escalation contact details used to
// compose handoff messages.
type Pipeline_Handoff struct {
	ContactPhone string
	Availability string
}

// Pipeline_Collaborators holds the base URLs of the four external
// collaborator services.
type Pipeline_Collaborators struct {
	PreprocessorUrl  string
	RulesUrl         string
	WorkflowUrl      string
	PostprocessorUrl string
	Timeout          *durationpb.Duration
}

// Pipeline_Breaker holds the circuit breaker policy for one stage.
type Pipeline_Breaker struct {
	Stage            string
	FailureThreshold int
	RecoveryTimeout  *durationpb.Duration
}

// SLA holds response-time tracking configuration.
type SLA struct {
	ThresholdMs        float64
	WarningThresholdMs float64
	WindowSize         int
	RetentionDays      int
	SummaryCacheTtl    *durationpb.Duration
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
