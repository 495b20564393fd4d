package services

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"mwp/internal/models"
	apperrors "mwp/pkg/errors"
	"mwp/pkg/pagination"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB 连接测试库，未配置MWP_TEST_DSN时跳过
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("MWP_TEST_DSN")
	if dsn == "" {
		t.Skip("MWP_TEST_DSN未设置，跳过数据库测试")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.WorkflowDefinition{},
		&models.WorkflowDefinitionRevision{},
		&models.WorkflowInstance{},
		&models.WorkflowInstanceHistory{},
		&models.WorkflowInstanceComment{},
		&models.WorkflowAction{},
	))

	require.NoError(t, db.Exec(`TRUNCATE TABLE
		workflow_actions,
		workflow_instance_comments,
		workflow_instance_histories,
		workflow_instances,
		workflow_definition_revisions,
		workflow_definitions,
		users
		RESTART IDENTITY CASCADE`).Error)

	return db
}

func createRepairDefinition(t *testing.T, svc *DefinitionService) *models.WorkflowDefinition {
	t.Helper()

	definition, err := svc.Create(1, CreateDefinitionRequest{
		Name: "维修工单流程",
		Code: "repair-order",
		Graph: models.WorkflowGraph{
			States: []models.WorkflowState{
				{ID: "reported", Name: "已上报"},
				{ID: "assigned", Name: "已派单"},
				{ID: "done", Name: "已完成"},
			},
			Transitions: []models.WorkflowTransition{
				{FromStateID: "reported", ToStateID: "assigned", Label: "派单", AllowedRoles: []string{"dispatcher"}},
				{FromStateID: "assigned", ToStateID: "done", Label: "完成"},
			},
			InitialStateID: "reported",
			FinalStateIDs:  []string{"done"},
		},
	})
	require.NoError(t, err)
	return definition
}

func TestDefinitionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	svc := NewDefinitionService(db)

	definition := createRepairDefinition(t, svc)
	assert.Equal(t, 1, definition.Version)
	assert.True(t, definition.IsActive)

	t.Run("编码重复拒绝创建", func(t *testing.T) {
		_, err := svc.Create(1, CreateDefinitionRequest{
			Name:  "重复",
			Code:  "repair-order",
			Graph: validGraph(),
		})
		var conflictErr *apperrors.ConflictError
		require.True(t, errors.As(err, &conflictErr))
	})

	t.Run("结构性更新递增版本并留快照", func(t *testing.T) {
		newGraph := validGraph()
		updated, err := svc.Update(definition.ID, 2, UpdateDefinitionRequest{Graph: &newGraph})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		revisions, total, err := svc.GetRevisions(definition.ID, testPageParams())
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, 1, revisions[0].Version, "快照保存的是变更前的版本")
	})

	t.Run("非结构性更新不递增版本", func(t *testing.T) {
		updated, err := svc.Update(definition.ID, 2, UpdateDefinitionRequest{Description: "仅改描述"})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
	})

	t.Run("复制得到版本1的新定义", func(t *testing.T) {
		copied, err := svc.Duplicate(definition.ID, 3, "repair-copy", "维修流程副本")
		require.NoError(t, err)
		assert.Equal(t, 1, copied.Version)
		assert.Equal(t, "repair-copy", copied.Code)
	})
}

func TestInstanceRuntime(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	svc := NewInstanceService(db, nil, nil)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}
	dispatcher := &Actor{UserID: 2, Username: "dsp", Roles: []string{"dispatcher"}}
	technician := &Actor{UserID: 3, Username: "tech", Roles: []string{"technician"}}

	instance, err := svc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "3号电梯故障",
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, "reported", instance.CurrentStateID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, 1, instance.RowVersion)

	t.Run("创建即有初始历史", func(t *testing.T) {
		history, err := svc.GetHistory(instance.InstanceID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "reported", history[0].ToState)
	})

	t.Run("非法流转携带可用流转", func(t *testing.T) {
		_, err := svc.Transition(instance.InstanceID, "done", admin, "", nil)
		var invalidErr *apperrors.InvalidTransitionError
		require.True(t, errors.As(err, &invalidErr))
		assert.NotEmpty(t, invalidErr.Allowed)
	})

	t.Run("角色不满足白名单拒绝", func(t *testing.T) {
		_, err := svc.Transition(instance.InstanceID, "assigned", technician, "", nil)
		var forbiddenErr *apperrors.ForbiddenError
		require.True(t, errors.As(err, &forbiddenErr))
	})

	t.Run("可用流转按角色过滤", func(t *testing.T) {
		forTech, err := svc.AvailableTransitions(instance.InstanceID, technician)
		require.NoError(t, err)
		assert.Empty(t, forTech)

		forDispatcher, err := svc.AvailableTransitions(instance.InstanceID, dispatcher)
		require.NoError(t, err)
		require.Len(t, forDispatcher, 1)
		assert.Equal(t, "assigned", forDispatcher[0].ToStateID)
	})

	t.Run("合法流转推进状态并递增版本", func(t *testing.T) {
		updated, err := svc.Transition(instance.InstanceID, "assigned", dispatcher, "派给三组", nil)
		require.NoError(t, err)
		assert.Equal(t, "assigned", updated.CurrentStateID)
		assert.Equal(t, 2, updated.RowVersion)

		history, err := svc.GetHistory(instance.InstanceID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("暂停与恢复", func(t *testing.T) {
		paused, err := svc.Pause(instance.InstanceID, "等待备件", admin)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusPaused, paused.Status)
		require.NotNil(t, paused.PausedAt)

		// 暂停中不可流转
		_, err = svc.Transition(instance.InstanceID, "done", admin, "", nil)
		var invalidErr *apperrors.InvalidTransitionError
		require.True(t, errors.As(err, &invalidErr))

		// 重复暂停拒绝
		_, err = svc.Pause(instance.InstanceID, "再暂停", admin)
		require.True(t, errors.As(err, &invalidErr))

		resumed, err := svc.Reactivate(instance.InstanceID, admin)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusActive, resumed.Status)
		assert.Nil(t, resumed.PausedAt)
		require.NotNil(t, resumed.ResumedAt)
	})

	t.Run("流转到终止状态完结实例", func(t *testing.T) {
		completed, err := svc.Transition(instance.InstanceID, "done", admin, "修好了", nil)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusCompleted, completed.Status)
		require.NotNil(t, completed.FinishedAt)
		assert.GreaterOrEqual(t, completed.ExecSeconds, int64(0))

		// 完结后不可再流转
		_, err = svc.Transition(instance.InstanceID, "assigned", admin, "", nil)
		var invalidErr *apperrors.InvalidTransitionError
		require.True(t, errors.As(err, &invalidErr))
	})

	t.Run("仍有活跃实例时拒绝删除定义", func(t *testing.T) {
		_, err := svc.CreateInstance(CreateInstanceRequest{
			DefinitionID: definition.ID,
			Title:        "二号空调异响",
		}, admin)
		require.NoError(t, err)

		err = defSvc.Delete(definition.ID)
		var conflictErr *apperrors.ConflictError
		require.True(t, errors.As(err, &conflictErr))
	})

	t.Run("取消实例", func(t *testing.T) {
		other, err := svc.CreateInstance(CreateInstanceRequest{
			DefinitionID: definition.ID,
			Title:        "误报工单",
		}, admin)
		require.NoError(t, err)

		cancelled, err := svc.Cancel(other.InstanceID, "重复上报", admin)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.FinishedAt)
	})
}

func TestInstanceComments(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	svc := NewInstanceService(db, nil, nil)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}
	outsider := &Actor{UserID: 9, Username: "guest"}

	instance, err := svc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "水管渗漏",
	}, admin)
	require.NoError(t, err)

	_, err = svc.AddComment(instance.InstanceID, "已联系供应商", admin, true)
	require.NoError(t, err)
	_, err = svc.AddComment(instance.InstanceID, "供应商报价偏高", admin, false)
	require.NoError(t, err)

	t.Run("管理员可见全部备注", func(t *testing.T) {
		comments, err := svc.GetComments(instance.InstanceID, admin)
		require.NoError(t, err)
		assert.Len(t, comments, 2)
	})

	t.Run("无关用户只见公开备注", func(t *testing.T) {
		comments, err := svc.GetComments(instance.InstanceID, outsider)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Equal(t, models.CommentVisibilityPublic, comments[0].Visibility)
	})
}

func TestActionEngineAutoTransition(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	instanceSvc := NewInstanceService(db, nil, nil)
	engine := NewActionEngine(db, instanceSvc, nil)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}

	instance, err := instanceSvc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "过滤网更换",
	}, admin)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	action, err := engine.ScheduleAction(ScheduleActionRequest{
		InstanceID:    instance.InstanceID,
		ActionType:    models.ActionTypeAutoTransition,
		TriggerType:   models.TriggerTypeTime,
		ScheduledFor:  &past,
		TargetStateID: "assigned",
	}, SystemActor())
	require.NoError(t, err)
	assert.Equal(t, 3, action.MaxAttempts, "未指定时取默认重试上限")

	outcomes := engine.RunDue(time.Now())
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	reloaded, err := instanceSvc.GetByInstanceID(instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "assigned", reloaded.CurrentStateID)

	stored, err := engine.GetByActionID(action.ActionID)
	require.NoError(t, err)
	assert.True(t, stored.Executed)
	assert.Equal(t, models.ActionOutcomeSuccess, stored.Outcome)
	require.NotNil(t, stored.ExecutedAt)

	t.Run("已执行动作不再入选", func(t *testing.T) {
		assert.Empty(t, engine.RunDue(time.Now()))
	})
}

func TestActionEngineTerminalFailure(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	instanceSvc := NewInstanceService(db, nil, nil)
	engine := NewActionEngine(db, instanceSvc, nil)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}

	instance, err := instanceSvc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "不可达流转",
	}, admin)
	require.NoError(t, err)

	// reported -> done 不是图上的边，自动流转必然失败且重试无意义
	past := time.Now().Add(-time.Minute)
	action, err := engine.ScheduleAction(ScheduleActionRequest{
		InstanceID:    instance.InstanceID,
		ActionType:    models.ActionTypeAutoTransition,
		TriggerType:   models.TriggerTypeTime,
		ScheduledFor:  &past,
		TargetStateID: "done",
	}, SystemActor())
	require.NoError(t, err)

	outcomes := engine.RunDue(time.Now())
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.True(t, outcomes[0].Terminal, "非法流转不重试，直接终结")

	stored, err := engine.GetByActionID(action.ActionID)
	require.NoError(t, err)
	assert.True(t, stored.TerminallyFailed)
	assert.False(t, stored.Executed)
	assert.Equal(t, models.ActionOutcomeFailed, stored.Outcome)
	assert.False(t, stored.Retryable())
}

func TestActionEngineFireEvent(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	instanceSvc := NewInstanceService(db, nil, nil)
	engine := NewActionEngine(db, instanceSvc, nil)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}

	instance, err := instanceSvc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "备件到货触发",
	}, admin)
	require.NoError(t, err)

	_, err = engine.ScheduleAction(ScheduleActionRequest{
		InstanceID:    instance.InstanceID,
		ActionType:    models.ActionTypeAutoTransition,
		TriggerType:   models.TriggerTypeEvent,
		EventCode:     "parts.arrived",
		TargetStateID: "assigned",
	}, SystemActor())
	require.NoError(t, err)

	// 事件触发的动作不被RunDue捞起
	assert.Empty(t, engine.RunDue(time.Now()))

	outcomes, err := engine.FireEvent("parts.arrived", instance.InstanceID, time.Now())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	reloaded, err := instanceSvc.GetByInstanceID(instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "assigned", reloaded.CurrentStateID)
}

func TestEscalationSweep(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	instanceSvc := NewInstanceService(db, nil, nil)
	engine := NewActionEngine(db, instanceSvc, nil)
	scheduler := NewEscalationScheduler(db, instanceSvc, engine)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}

	overdueDeadline := time.Now().Add(-time.Hour)
	overdue, err := instanceSvc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "超期工单",
		Deadline:     &overdueDeadline,
		Priority:     models.PriorityHigh,
	}, admin)
	require.NoError(t, err)

	nearDeadline := time.Now().Add(30 * time.Minute)
	_, err = instanceSvc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "临期工单",
		Deadline:     &nearDeadline,
		Priority:     models.PriorityHigh,
	}, admin)
	require.NoError(t, err)

	report := scheduler.RunOnce(time.Now())
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, 1, report.Reminded)
	assert.Empty(t, report.Errors)

	reloaded, err := instanceSvc.GetByInstanceID(overdue.InstanceID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastEscalatedAt, "升级执行后记录标记")
	assert.Equal(t, models.PriorityCritical, reloaded.Priority, "升级时优先级上调一档")

	t.Run("间隔内重复扫描不再升级", func(t *testing.T) {
		again := scheduler.RunOnce(time.Now())
		assert.Zero(t, again.Escalated)
	})

	t.Run("状态查询", func(t *testing.T) {
		stats, err := scheduler.Stats()
		require.NoError(t, err)
		assert.False(t, stats.Running)
		require.NotNil(t, stats.LastSweepAt)
		assert.Equal(t, int64(1), stats.OverdueCount)
	})
}

func TestConcurrentTransitionsSerialized(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	svc := NewInstanceService(db, nil, nil)

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}

	instance, err := svc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "并发派单",
	}, admin)
	require.NoError(t, err)

	// 同一实例上同时发起两个流转，只允许一个成功
	const racers = 2
	results := make(chan error, racers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Transition(instance.InstanceID, "assigned", admin, "并发推进", nil)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		// 落败方基于胜者已落库的状态被判定：要么目标不可达，要么锁竞争
		var invalidErr *apperrors.InvalidTransitionError
		var conflictErr *apperrors.ConcurrencyConflictError
		assert.True(t, errors.As(err, &invalidErr) || errors.As(err, &conflictErr),
			"落败方应返回非法流转或并发冲突: %v", err)
	}
	assert.Equal(t, 1, successes, "恰好一个流转成功")

	reloaded, err := svc.GetByInstanceID(instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "assigned", reloaded.CurrentStateID)
	assert.Equal(t, 2, reloaded.RowVersion, "行版本只递增一次，无丢更新")

	history, err := svc.GetHistory(instance.InstanceID)
	require.NoError(t, err)
	require.Len(t, history, 2, "只有胜者追加历史")
	assert.Equal(t, "assigned", history[len(history)-1].ToState)
}

func TestSchedulerStopWhileSweeping(t *testing.T) {
	db := setupTestDB(t)
	defSvc := NewDefinitionService(db)
	instanceSvc := NewInstanceService(db, nil, nil)
	engine := NewActionEngine(db, instanceSvc, nil)
	scheduler := NewEscalationScheduler(db, instanceSvc, engine)
	scheduler.interval = 50 * time.Millisecond

	definition := createRepairDefinition(t, defSvc)
	admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}

	// 准备超期数据，让每轮扫描有实际工作量
	overdueDeadline := time.Now().Add(-time.Hour)
	_, err := instanceSvc.CreateInstance(CreateInstanceRequest{
		DefinitionID: definition.ID,
		Title:        "停机期间的超期工单",
		Deadline:     &overdueDeadline,
		Priority:     models.PriorityHigh,
	}, admin)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start())
	assert.True(t, scheduler.IsRunning())

	// 等cron至少派发过一轮扫描，使Stop大概率与扫描收尾交错
	time.Sleep(200 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop()在扫描进行中未返回")
	}

	assert.False(t, scheduler.IsRunning())

	// 已停止后重复Stop无副作用
	scheduler.Stop()
}

func testPageParams() *pagination.PageParams {
	return &pagination.PageParams{Page: 1, PageSize: 20}
}
