package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
)

// MaintenanceService bundles the periodic housekeeping passes: settle ended
// contests, re-drive entries parked on a stale oracle, archive old rounds,
// and retry outbound payouts that failed to dispatch.
type MaintenanceService struct {
	Distributor *DistributorService
	Admission   *AdmissionService
	Sweeper     *SweeperService
	Payouts     *PayoutService
}

func NewMaintenanceService(distributor *DistributorService, admission *AdmissionService, sweeper *SweeperService, payouts *PayoutService) *MaintenanceService {
	return &MaintenanceService{Distributor: distributor, Admission: admission, Sweeper: sweeper, Payouts: payouts}
}

// Run executes one full maintenance pass. Settlement goes first so freshly
// ended contests pay out before the sweeper could ever consider them.
func (s *MaintenanceService) Run() {
	s.Distributor.SettleDue()
	s.Admission.RecheckParked()
	s.Sweeper.Sweep()
	s.Payouts.DispatchPending()
}

// StartScheduler runs maintenance every minute.
func (s *MaintenanceService) StartScheduler() {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("failed to create maintenance scheduler: %v", err)
	}
	sched.Start()

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.Run()
		}),
		// A slow pass must not overlap the next tick.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Fatalf("failed to schedule maintenance job: %v", err)
	}
	log.Println("⚙️  maintenance scheduler started (1m interval)")
}

// RunEndpoint handles POST /admin/maintenance/run for out-of-band passes.
func (s *MaintenanceService) RunEndpoint(c *fiber.Ctx) error {
	s.Run()
	return c.JSON(fiber.Map{"status": "maintenance run complete"})
}
