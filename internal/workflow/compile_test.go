package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

func TestCompileRejectsDuplicateNodeID(t *testing.T) {
	_, err := Compile(models.Definition{
		Nodes: []models.Node{
			{ID: "a", Type: models.NodeTypeStart},
			{ID: "a", Type: models.NodeTypeEnd},
		},
	})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestCompileRejectsDanglingEdge(t *testing.T) {
	_, err := Compile(models.Definition{
		Nodes: []models.Node{
			{ID: "a", Type: models.NodeTypeStart},
		},
		Edges: []models.Edge{
			{Source: "a", Target: "missing"},
		},
	})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestCompileRejectsConditionWithoutExpression(t *testing.T) {
	_, err := Compile(models.Definition{
		Nodes: []models.Node{
			{ID: "c", Type: models.NodeTypeCondition},
		},
	})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCompilePicksStartNodeAsEntry(t *testing.T) {
	plan, err := Compile(models.Definition{
		Nodes: []models.Node{
			{ID: "work", Type: models.NodeTypePython, CodeRef: "x"},
			{ID: "begin", Type: models.NodeTypeStart},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "begin", plan.Entry)
}

func TestCompileWithoutStartUsesFirstDeclaredNode(t *testing.T) {
	plan, err := Compile(models.Definition{
		Nodes: []models.Node{
			{ID: "first", Type: models.NodeTypePython, CodeRef: "x"},
			{ID: "second", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "first", Target: "second"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "first", plan.Entry)
}

func TestCompileAcceptsEmptyDefinition(t *testing.T) {
	plan, err := Compile(models.Definition{})
	require.NoError(t, err)
	assert.Empty(t, plan.Entry)
}

func TestPlanNextFollowsConditionBranch(t *testing.T) {
	plan, err := Compile(models.Definition{
		Nodes: []models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Condition: &models.Condition{
				Op: "eq", Args: []*models.Condition{
					{Op: "var", Var: "x"},
					{Op: "const", Value: 1},
				},
			}},
			{ID: "yes", Type: models.NodeTypeEnd},
			{ID: "no", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "check", Target: "yes", When: "true"},
			{Source: "check", Target: "no", When: "false"},
		},
	})
	require.NoError(t, err)

	next, ok := plan.Next("check", "true")
	require.True(t, ok)
	assert.Equal(t, "yes", next)

	next, ok = plan.Next("check", "false")
	require.True(t, ok)
	assert.Equal(t, "no", next)

	_, ok = plan.Next("yes", "")
	assert.False(t, ok)
}
