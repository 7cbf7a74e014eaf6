package audit

import "github.com/rs/zerolog"

// ZerologSink is the default Sink: it emits one structured line per event
// and never fails, mirroring the teacher's audit.go fallback behavior of
// always logging even when no external recorder is wired.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink constructs a ZerologSink.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

func (s *ZerologSink) Record(e Event) error {
	evt := s.logger.Info()
	if e.Outcome == "failure" {
		evt = s.logger.Warn()
	}
	evt.
		Str("type", "audit").
		Str("request_id", e.RequestID).
		Str("subject_id", e.SubjectID).
		Str("client_id", e.ClientID).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Int("status", e.StatusCode).
		Str("remote_ip", e.IPAddress).
		Str("outcome", e.Outcome).
		Time("timestamp", e.Timestamp).
		Msg("resource_access")
	return nil
}

// This package defines no echo middleware. The auditMiddleware in
// cmd/fhirserver/main.go calls Sink.Record once for each request served
// by the /fhir route group.
