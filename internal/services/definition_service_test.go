package services

import (
	"errors"
	"testing"

	"mwp/internal/models"
	apperrors "mwp/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() models.WorkflowGraph {
	return models.WorkflowGraph{
		States: []models.WorkflowState{
			{ID: "open", Name: "待处理"},
			{ID: "doing", Name: "处理中"},
			{ID: "closed", Name: "已关闭"},
		},
		Transitions: []models.WorkflowTransition{
			{FromStateID: "open", ToStateID: "doing", Label: "开始"},
			{FromStateID: "doing", ToStateID: "closed", Label: "完成"},
		},
		InitialStateID: "open",
		FinalStateIDs:  []string{"closed"},
	}
}

func TestValidateGraph(t *testing.T) {
	svc := NewDefinitionService(nil)

	t.Run("合法状态图通过校验", func(t *testing.T) {
		graph := validGraph()
		assert.NoError(t, svc.ValidateGraph(&graph))
	})

	tests := []struct {
		name    string
		mutate  func(*models.WorkflowGraph)
		keyword string
	}{
		{
			name:    "空状态集合",
			mutate:  func(g *models.WorkflowGraph) { g.States = nil },
			keyword: "至少一个状态",
		},
		{
			name: "状态ID重复",
			mutate: func(g *models.WorkflowGraph) {
				g.States = append(g.States, models.WorkflowState{ID: "open", Name: "重复"})
			},
			keyword: "状态ID重复",
		},
		{
			name: "状态ID为空",
			mutate: func(g *models.WorkflowGraph) {
				g.States = append(g.States, models.WorkflowState{ID: "", Name: "无ID"})
			},
			keyword: "状态ID不能为空",
		},
		{
			name: "流转引用不存在的源状态",
			mutate: func(g *models.WorkflowGraph) {
				g.Transitions = append(g.Transitions, models.WorkflowTransition{FromStateID: "ghost", ToStateID: "open"})
			},
			keyword: "源状态不存在",
		},
		{
			name: "流转引用不存在的目标状态",
			mutate: func(g *models.WorkflowGraph) {
				g.Transitions = append(g.Transitions, models.WorkflowTransition{FromStateID: "open", ToStateID: "ghost"})
			},
			keyword: "目标状态不存在",
		},
		{
			name:    "初始状态为空",
			mutate:  func(g *models.WorkflowGraph) { g.InitialStateID = "" },
			keyword: "初始状态不能为空",
		},
		{
			name:    "初始状态不在状态集合中",
			mutate:  func(g *models.WorkflowGraph) { g.InitialStateID = "ghost" },
			keyword: "初始状态不存在",
		},
		{
			name:    "终止状态集合为空",
			mutate:  func(g *models.WorkflowGraph) { g.FinalStateIDs = nil },
			keyword: "终止状态集合不能为空",
		},
		{
			name:    "终止状态不在状态集合中",
			mutate:  func(g *models.WorkflowGraph) { g.FinalStateIDs = []string{"ghost"} },
			keyword: "终止状态不存在",
		},
		{
			name:    "终止状态重复",
			mutate:  func(g *models.WorkflowGraph) { g.FinalStateIDs = []string{"closed", "closed"} },
			keyword: "终止状态重复",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph := validGraph()
			tt.mutate(&graph)

			err := svc.ValidateGraph(&graph)
			require.Error(t, err)

			var validationErr *apperrors.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.NotEmpty(t, validationErr.Violations)
			assert.Contains(t, err.Error(), tt.keyword)
		})
	}
}

// 校验收集全部违反项而不是遇错即返
func TestValidateGraphCollectsAllViolations(t *testing.T) {
	svc := NewDefinitionService(nil)

	graph := models.WorkflowGraph{
		States: []models.WorkflowState{
			{ID: "a", Name: "A"},
			{ID: "a", Name: "重复"},
		},
		Transitions: []models.WorkflowTransition{
			{FromStateID: "ghost", ToStateID: "missing"},
		},
		InitialStateID: "nowhere",
		FinalStateIDs:  nil,
	}

	err := svc.ValidateGraph(&graph)
	require.Error(t, err)

	var validationErr *apperrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	// 重复状态ID + 流转源/目标 + 初始状态 + 空终止集合
	assert.GreaterOrEqual(t, len(validationErr.Violations), 5)
}
