package retention

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/shobu13/kindly-kappa/internal/db"
)

type Config struct {
	Interval time.Duration
	// Newest bug rounds kept per room
	KeepRounds int
	// Evaluations older than this are deleted; 0 keeps them all
	EvaluationMaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		KeepRounds:       50,
		EvaluationMaxAge: 7 * 24 * time.Hour,
	}
}

// What one pass deleted
type Result struct {
	Rounds      int64
	Evaluations int64
}

// Service periodically prunes the history store
type Service struct {
	database *db.Database
	config   Config
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config) *Service {
	return &Service{
		database: database,
		config:   config,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	glog.Infof("[retention] started (interval %v, keeping %d rounds per room, evaluations for %v)",
		s.config.Interval, s.config.KeepRounds, s.config.EvaluationMaxAge)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		glog.Info("[retention] stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.RunNow()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunNow()
		}
	}
}

// RunNow performs one pruning pass. Failures are logged and the pass moves on.
func (s *Service) RunNow() Result {
	var result Result

	codes, err := s.database.RoomsWithRoundsOver(s.config.KeepRounds)
	if err != nil {
		glog.Errorf("[retention] list rooms over %d rounds: %v", s.config.KeepRounds, err)
	}
	for _, code := range codes {
		n, err := s.database.DeleteOldRounds(code, s.config.KeepRounds)
		if err != nil {
			glog.Errorf("[retention] prune rounds of room %s: %v", code, err)
			continue
		}
		result.Rounds += n
	}

	if s.config.EvaluationMaxAge > 0 {
		n, err := s.database.DeleteEvaluationsBefore(s.now().Add(-s.config.EvaluationMaxAge))
		if err != nil {
			glog.Errorf("[retention] prune evaluations: %v", err)
		}
		result.Evaluations = n
	}

	if result.Rounds > 0 || result.Evaluations > 0 {
		glog.Infof("[retention] deleted %d rounds in %d rooms and %d evaluations",
			result.Rounds, len(codes), result.Evaluations)
	}
	return result
}
