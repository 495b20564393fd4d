package services

import (
	"fmt"
	"sync"
	"time"

	"mwp/internal/models"
	"mwp/pkg/config"
	"mwp/pkg/logger"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// EscalationScheduler 升级调度器：周期扫描超期与临期实例并调度升级/提醒动作
type EscalationScheduler struct {
	db              *gorm.DB
	cron            *cron.Cron
	instanceService *InstanceService
	actionEngine    *ActionEngine
	interval        time.Duration
	lookAhead       time.Duration
	workers         int
	minPriority     int
	mu              sync.RWMutex
	running         bool
	lastSweepAt     *time.Time
	lastReport      *SweepReport
}

// SweepReport 单次扫描结果
type SweepReport struct {
	Escalated int      `json:"escalated"`
	Reminded  int      `json:"reminded"`
	Errors    []string `json:"errors,omitempty"`
	SweptAt   string   `json:"swept_at"`
}

// NewEscalationScheduler 创建升级调度器
func NewEscalationScheduler(db *gorm.DB, instanceService *InstanceService, actionEngine *ActionEngine) *EscalationScheduler {
	cfg := config.GetConfig()
	return &EscalationScheduler{
		db:              db,
		cron:            cron.New(),
		instanceService: instanceService,
		actionEngine:    actionEngine,
		interval:        cfg.Engine.SweepInterval,
		lookAhead:       cfg.Engine.LookAheadWindow,
		workers:         cfg.Engine.SweepWorkers,
		minPriority:     cfg.Engine.RemindMinPriority,
	}
}

// Start 启动调度器，重复调用无副作用
func (s *EscalationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	log := logger.GetLogger()
	log.Infof("启动升级调度器，扫描间隔: %v", s.interval)

	cronExpr := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(cronExpr, func() {
		report := s.RunOnce(time.Now())
		if len(report.Errors) > 0 {
			log.Warnf("升级扫描完成，升级 %d 提醒 %d，错误 %d 个",
				report.Escalated, report.Reminded, len(report.Errors))
		}
	})
	if err != nil {
		return fmt.Errorf("创建扫描任务失败: %v", err)
	}

	s.cron.Start()
	s.running = true

	// 启动后立即执行一次，不等首个周期
	go s.RunOnce(time.Now())

	return nil
}

// Stop 停止调度器，等待进行中的扫描结束
// 等待期间不持有s.mu：进行中的扫描收尾时要拿同一把锁记录结果
func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log := logger.GetLogger()
	log.Info("停止升级调度器")

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// IsRunning 检查调度器是否运行中
func (s *EscalationScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunOnce 执行一次完整扫描：超期升级、临期提醒，然后驱动动作引擎
// 单个实例失败不影响其余，错误收集进报告
func (s *EscalationScheduler) RunOnce(now time.Time) *SweepReport {
	log := logger.GetLogger()
	report := &SweepReport{SweptAt: now.Format(time.RFC3339)}
	var reportMu sync.Mutex

	addError := func(format string, args ...interface{}) {
		reportMu.Lock()
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
		reportMu.Unlock()
	}

	// 超期实例 -> 升级动作
	overdue, err := s.instanceService.FindOverdue(now)
	if err != nil {
		addError("查询超期实例失败: %v", err)
	} else {
		escalated := s.forEachInstance(overdue, func(instance *models.WorkflowInstance) (bool, error) {
			return s.escalateInstance(instance, now)
		}, addError)
		reportMu.Lock()
		report.Escalated = escalated
		reportMu.Unlock()
	}

	// 临期实例 -> 提醒动作
	nearDue, err := s.instanceService.FindNearDue(now, s.lookAhead, s.minPriority)
	if err != nil {
		addError("查询临期实例失败: %v", err)
	} else {
		reminded := s.forEachInstance(nearDue, func(instance *models.WorkflowInstance) (bool, error) {
			return s.remindInstance(instance, now)
		}, addError)
		reportMu.Lock()
		report.Reminded = reminded
		reportMu.Unlock()
	}

	// 执行本轮调度出的动作（连同其它到期动作）
	outcomes := s.actionEngine.RunDue(now)
	for _, outcome := range outcomes {
		if !outcome.Success && outcome.Terminal {
			addError("动作 %s 终结失败: %s", outcome.ActionID, outcome.Detail)
		}
	}

	s.mu.Lock()
	s.lastSweepAt = &now
	s.lastReport = report
	s.mu.Unlock()

	log.WithField("escalated", report.Escalated).
		WithField("reminded", report.Reminded).
		Debug("升级扫描完成")

	return report
}

// forEachInstance 用有界工作池处理一批实例，返回实际处理数
func (s *EscalationScheduler) forEachInstance(instances []models.WorkflowInstance,
	handle func(*models.WorkflowInstance) (bool, error),
	addError func(string, ...interface{})) int {

	if len(instances) == 0 {
		return 0
	}

	workers := s.workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan *models.WorkflowInstance)
	var wg sync.WaitGroup
	var countMu sync.Mutex
	count := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for instance := range jobs {
				acted, err := handle(instance)
				if err != nil {
					addError("实例 %s 处理失败: %v", instance.InstanceID, err)
					continue
				}
				if acted {
					countMu.Lock()
					count++
					countMu.Unlock()
				}
			}
		}()
	}

	for i := range instances {
		jobs <- &instances[i]
	}
	close(jobs)
	wg.Wait()

	return count
}

// escalateInstance 为超期实例调度升级动作
// 幂等保护：扫描间隔内已升级过、或已有待执行升级动作的实例跳过
func (s *EscalationScheduler) escalateInstance(instance *models.WorkflowInstance, now time.Time) (bool, error) {
	if instance.LastEscalatedAt != nil && now.Sub(*instance.LastEscalatedAt) < s.interval {
		return false, nil
	}

	pending, err := s.actionEngine.HasPendingAction(instance.ID, models.ActionTypeEscalate)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	scheduledFor := now
	_, err = s.actionEngine.ScheduleAction(ScheduleActionRequest{
		InstanceID:   instance.InstanceID,
		ActionType:   models.ActionTypeEscalate,
		TriggerType:  models.TriggerTypeTime,
		ScheduledFor: &scheduledFor,
		Recipient:    s.escalationRecipient(instance),
		Message:      fmt.Sprintf("实例「%s」已超期，截止时间 %s", instance.Title, formatDeadline(instance.Deadline)),
	}, SystemActor())
	if err != nil {
		return false, err
	}

	return true, nil
}

// remindInstance 为临期实例调度提醒动作
func (s *EscalationScheduler) remindInstance(instance *models.WorkflowInstance, now time.Time) (bool, error) {
	pending, err := s.actionEngine.HasPendingAction(instance.ID, models.ActionTypeReminder)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	scheduledFor := now
	_, err = s.actionEngine.ScheduleAction(ScheduleActionRequest{
		InstanceID:   instance.InstanceID,
		ActionType:   models.ActionTypeReminder,
		TriggerType:  models.TriggerTypeTime,
		ScheduledFor: &scheduledFor,
		Recipient:    instance.AssigneeID,
		Message:      fmt.Sprintf("实例「%s」即将到期，截止时间 %s", instance.Title, formatDeadline(instance.Deadline)),
	}, SystemActor())
	if err != nil {
		return false, err
	}

	return true, nil
}

// escalationRecipient 升级通知对象：优先审批人，其次处理人
func (s *EscalationScheduler) escalationRecipient(instance *models.WorkflowInstance) uint {
	if instance.ApproverID != nil && *instance.ApproverID != 0 {
		return *instance.ApproverID
	}
	return instance.AssigneeID
}

func formatDeadline(deadline *time.Time) string {
	if deadline == nil {
		return "未设置"
	}
	return deadline.Format("2006-01-02 15:04")
}

// SchedulerStats 调度器状态
type SchedulerStats struct {
	Running      bool         `json:"running"`
	Interval     string       `json:"interval"`
	OverdueCount int64        `json:"overdue_count"`
	NearDueCount int64        `json:"near_due_count"`
	LastSweepAt  *time.Time   `json:"last_sweep_at"`
	LastReport   *SweepReport `json:"last_report,omitempty"`
}

// Stats 获取调度器运行状态与待处理量
func (s *EscalationScheduler) Stats() (*SchedulerStats, error) {
	now := time.Now()

	overdue, err := s.instanceService.FindOverdue(now)
	if err != nil {
		return nil, err
	}
	nearDue, err := s.instanceService.FindNearDue(now, s.lookAhead, s.minPriority)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return &SchedulerStats{
		Running:      s.running,
		Interval:     s.interval.String(),
		OverdueCount: int64(len(overdue)),
		NearDueCount: int64(len(nearDue)),
		LastSweepAt:  s.lastSweepAt,
		LastReport:   s.lastReport,
	}, nil
}

var (
	escalationScheduler     *EscalationScheduler
	escalationSchedulerOnce sync.Once
)

// InitEscalationScheduler 初始化全局升级调度器
func InitEscalationScheduler(db *gorm.DB, instanceService *InstanceService, actionEngine *ActionEngine) *EscalationScheduler {
	escalationSchedulerOnce.Do(func() {
		escalationScheduler = NewEscalationScheduler(db, instanceService, actionEngine)
	})
	return escalationScheduler
}

// GetEscalationScheduler 获取全局升级调度器
func GetEscalationScheduler() *EscalationScheduler {
	return escalationScheduler
}
