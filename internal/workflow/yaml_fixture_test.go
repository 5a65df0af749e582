package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cloudshipai/workflow-core/internal/job"
	"github.com/cloudshipai/workflow-core/internal/param"
	"github.com/cloudshipai/workflow-core/internal/stage"
)

// A definition loader (YAML/TOML/JSON parsing into the engine's data model)
// is an external collaborator and lives outside this package. This fixture
// exercises the boundary such a loader would hand the engine: a document
// shaped like a real workflow file, decoded with yaml.v3 into a small DTO,
// then translated into job.Spec/stage.Spec/param.Spec by hand the way a
// loader would.
type yamlWorkflow struct {
	Name   string                  `yaml:"name"`
	Params map[string]yamlParam    `yaml:"params"`
	Jobs   map[string]yamlJobEntry `yaml:"jobs"`
}

type yamlParam struct {
	Type    string `yaml:"type"`
	Default string `yaml:"default"`
}

type yamlJobEntry struct {
	Needs  []string        `yaml:"needs"`
	Stages []yamlStageItem `yaml:"stages"`
}

type yamlStageItem struct {
	Name string `yaml:"name"`
	Echo string `yaml:"echo"`
	Bash string `yaml:"bash"`
}

const fixtureYAML = `
name: greet-and-build
params:
  who:
    type: string
    default: world
jobs:
  greet:
    stages:
      - name: say-hi
        echo: "hello ${{ params.who }}"
  build:
    needs: [greet]
    stages:
      - name: compile
        bash: "echo built"
`

func TestYAMLFixtureDecodesAndRuns(t *testing.T) {
	var doc yamlWorkflow
	require.NoError(t, yaml.Unmarshal([]byte(fixtureYAML), &doc))
	require.Equal(t, "greet-and-build", doc.Name)

	spec := Spec{
		Name:   doc.Name,
		Params: map[string]param.Spec{},
		Jobs:   map[string]job.Spec{},
	}
	for name, p := range doc.Params {
		spec.Params[name] = param.Spec{Name: name, Type: param.Kind(p.Type), Default: p.Default}
	}
	for id, j := range doc.Jobs {
		var stages []stage.Spec
		for _, s := range j.Stages {
			sp := stage.Spec{Name: s.Name, ID: s.Name}
			switch {
			case s.Bash != "":
				sp.Kind = stage.KindBash
				sp.Bash = s.Bash
			default:
				sp.Kind = stage.KindEmpty
				sp.Echo = s.Echo
			}
			stages = append(stages, sp)
		}
		spec.Jobs[id] = job.Spec{ID: id, Needs: j.Needs, Stages: stages}
	}

	require.NoError(t, spec.Validate())

	e := NewEngine()
	res, err := e.Execute(context.Background(), spec, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", string(res.Status))
}
