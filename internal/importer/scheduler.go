package importer

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

const syncTimeout = 30 * time.Minute

// Scheduler periodically imports all releases of the configured GitHub
// sources.
type Scheduler struct {
	importer *Importer
	sources  map[string]string
	cron     *cron.Cron
}

func NewScheduler(imp *Importer, sources map[string]string, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		importer: imp,
		sources:  sources,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	s.Sync(ctx)
}

// Sync imports every source once. Failures are logged and do not stop the
// remaining sources. It returns the number of imported releases per stub.
func (s *Scheduler) Sync(ctx context.Context) map[string]int {
	stubs := make([]string, 0, len(s.sources))
	for stub := range s.sources {
		stubs = append(stubs, stub)
	}
	sort.Strings(stubs)

	log := s.importer.log
	ret := make(map[string]int, len(stubs))
	for _, stub := range stubs {
		if ctx.Err() != nil {
			break
		}
		versions, err := s.importer.Import(ctx, stub, s.sources[stub], "")
		if err != nil {
			log.Errorf("sync of %s from %s failed: %v", stub, s.sources[stub], err)
			continue
		}
		ret[stub] = len(versions)
	}
	log.Infof("synced %d of %d GitHub sources", len(ret), len(stubs))
	return ret
}
