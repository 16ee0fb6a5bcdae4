package sequencer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/sequencer"
)

func initTask(name string, after ...string) model.TaskSpec {
	return model.TaskSpec{Name: name, Class: model.TaskClassInit, Commands: []string{"true"}, After: after}
}

func TestSequence(t *testing.T) {
	tests := map[string]struct {
		manifest    model.Manifest
		expSteps    []string
		expRequires [][]string
		expErr      error
	}{
		"No init tasks should return an empty plan.": {
			manifest:    model.Manifest{},
			expSteps:    []string{},
			expRequires: [][]string{},
		},

		"Manifest order should be the execution order.": {
			manifest: model.Manifest{
				InitTasks: []model.TaskSpec{initTask("deps"), initTask("build"), initTask("migrate"), initTask("collectstatic")},
			},
			expSteps:    []string{"deps", "build", "migrate", "collectstatic"},
			expRequires: [][]string{{}, {"deps"}, {"build"}, {"migrate"}},
		},

		"Explicit dependencies on earlier tasks should be kept.": {
			manifest: model.Manifest{
				InitTasks: []model.TaskSpec{initTask("deps"), initTask("build"), initTask("migrate", "deps", "build")},
			},
			expSteps:    []string{"deps", "build", "migrate"},
			expRequires: [][]string{{}, {"deps"}, {"build", "deps"}},
		},

		"A dependency on a later init task should fail with a cycle.": {
			manifest: model.Manifest{
				InitTasks: []model.TaskSpec{initTask("migrate", "deps"), initTask("deps")},
			},
			expErr: model.ErrCyclicDependency,
		},

		"A self dependency should fail with a cycle.": {
			manifest: model.Manifest{
				InitTasks: []model.TaskSpec{initTask("deps", "deps")},
			},
			expErr: model.ErrCyclicDependency,
		},

		"A dependency on a service should fail with a cycle.": {
			manifest: model.Manifest{
				InitTasks: []model.TaskSpec{initTask("migrate", "db")},
				Services:  []model.TaskSpec{{Name: "db", Class: model.TaskClassService, Commands: []string{"postgres"}}},
			},
			expErr: model.ErrCyclicDependency,
		},

		"A dependency on an unknown task should fail.": {
			manifest: model.Manifest{
				InitTasks: []model.TaskSpec{initTask("migrate", "nope")},
			},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			plan, err := sequencer.Sequence(test.manifest)

			if test.expErr != nil {
				require.Error(err)
				assert.True(errors.Is(err, test.expErr))
				return
			}
			require.NoError(err)

			gotSteps := []string{}
			gotRequires := [][]string{}
			for i, s := range plan.Steps {
				assert.Equal(i, s.Index)
				gotSteps = append(gotSteps, s.Task.Name)
				gotRequires = append(gotRequires, s.Requires)
			}
			assert.Equal(test.expSteps, gotSteps)
			assert.Equal(test.expRequires, gotRequires)
		})
	}
}

func TestSequenceCycleWitness(t *testing.T) {
	_, err := sequencer.Sequence(model.Manifest{
		InitTasks: []model.TaskSpec{initTask("a"), initTask("b", "c"), initTask("c")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b -> c -> b")
}
