package notify

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

const DefaultSummarySpec = "0 0 9 * * *"

var specParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec reports whether spec parses as a cron expression with a seconds field or a descriptor.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// Summary posts engine stats to the ops chat on a schedule.
type Summary struct {
	cron *cron.Cron
	svc  *Service
}

func NewSummary(spec string, svc *Service) (*Summary, error) {
	if spec == "" {
		spec = DefaultSummarySpec
	}
	s := &Summary{
		cron: cron.New(cron.WithParser(specParser)),
		svc:  svc,
	}
	if _, err := s.cron.AddFunc(spec, s.post); err != nil {
		return nil, fmt.Errorf("schedule summary: %w", err)
	}
	return s, nil
}

func (s *Summary) post() {
	s.svc.Publish(FormatStats(s.svc.engine.Stats()))
}

// Run blocks until ctx is done, then waits for a running post to finish.
func (s *Summary) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
