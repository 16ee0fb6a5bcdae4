package io

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/slok/devup/internal/model"
)

// InitializeTaskName is the name of the init task created from the manifest
// top level initialize script.
const InitializeTaskName = "initialize"

// ManifestRepository knows how to load manifests.
type ManifestRepository interface {
	GetManifest(ctx context.Context, path string) (model.Manifest, error)
}

// NewManifestRepository returns the manifest repository for the file format
// based on the file extension. YAML is the default.
func NewManifestRepository(filesystem fs.FS, manifestPath string) ManifestRepository {
	switch strings.ToLower(path.Ext(manifestPath)) {
	case ".toml":
		return NewManifestTOMLRepository(filesystem)
	default:
		return NewManifestYAMLRepository(filesystem)
	}
}

// NewFileManifestRepository returns the manifest repository for a manifest on
// the local filesystem and the path the manifest has to be loaded with.
func NewFileManifestRepository(file string) (ManifestRepository, string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, "", fmt.Errorf("could not resolve manifest path: %w", err)
	}

	root := filepath.VolumeName(abs) + string(filepath.Separator)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, "", fmt.Errorf("could not resolve manifest path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	return NewManifestRepository(os.DirFS(root), rel), rel, nil
}

// Manifest is the file structure of a manifest, shared by all formats.
type Manifest struct {
	Name       string            `yaml:"name" toml:"name"`
	Env        map[string]string `yaml:"env" toml:"env"`
	Initialize string            `yaml:"initialize" toml:"initialize"`
	Tasks      []Task            `yaml:"tasks" toml:"tasks"`
	Ports      []Port            `yaml:"ports" toml:"ports"`
}

// Task is the file structure of a task.
type Task struct {
	Name       string            `yaml:"name" toml:"name"`
	Class      string            `yaml:"class" toml:"class"`
	Command    string            `yaml:"command" toml:"command"`
	Commands   []string          `yaml:"commands" toml:"commands"`
	InitScript string            `yaml:"init_script" toml:"init_script"`
	Env        map[string]string `yaml:"env" toml:"env"`
	WorkingDir string            `yaml:"working_dir" toml:"working_dir"`
	After      []string          `yaml:"after" toml:"after"`
	Timeout    string            `yaml:"timeout" toml:"timeout"`
	ReadyPort  int               `yaml:"ready_port" toml:"ready_port"`
	Container  *Container        `yaml:"container" toml:"container"`
}

// Container is the file structure of a service container.
type Container struct {
	Image      string            `yaml:"image" toml:"image"`
	Ports      []string          `yaml:"ports" toml:"ports"`
	AutoRemove *bool             `yaml:"auto_remove" toml:"auto_remove"`
	Env        map[string]string `yaml:"env" toml:"env"`
}

// Port is the file structure of a port.
type Port struct {
	Port   int    `yaml:"port" toml:"port"`
	Policy string `yaml:"policy" toml:"policy"`
	Label  string `yaml:"label" toml:"label"`
}

func (m Manifest) toModel() (model.Manifest, error) {
	mf := model.Manifest{
		Name: m.Name,
		Env:  m.Env,
	}

	if strings.TrimSpace(m.Initialize) != "" {
		mf.InitTasks = append(mf.InitTasks, model.TaskSpec{
			Name:     InitializeTaskName,
			Class:    model.TaskClassInit,
			Commands: []string{m.Initialize},
		})
	}

	for i, t := range m.Tasks {
		task, err := t.toModel()
		if err != nil {
			return model.Manifest{}, fmt.Errorf("task %d (%q): %w", i, t.Name, err)
		}

		switch task.Class {
		case model.TaskClassService:
			mf.Services = append(mf.Services, task)
		default:
			mf.InitTasks = append(mf.InitTasks, task)
		}
	}

	for i, p := range m.Ports {
		policy, err := model.ParsePortPolicy(p.Policy)
		if err != nil {
			return model.Manifest{}, fmt.Errorf("port %d: %w", i, err)
		}
		mf.Ports = append(mf.Ports, model.PortSpec{
			Port:   p.Port,
			Policy: policy,
			Label:  p.Label,
		})
	}

	if err := mf.Validate(); err != nil {
		return model.Manifest{}, err
	}

	return mf, nil
}

func (t Task) toModel() (model.TaskSpec, error) {
	task := model.TaskSpec{
		Name:       t.Name,
		Class:      model.TaskClass(strings.ToLower(t.Class)),
		Env:        t.Env,
		WorkingDir: t.WorkingDir,
		After:      t.After,
		ReadyPort:  t.ReadyPort,
	}

	// Exactly one body form is allowed.
	forms := 0
	if t.Command != "" {
		forms++
		task.Commands = []string{t.Command}
	}
	if len(t.Commands) > 0 {
		forms++
		task.Commands = t.Commands
	}
	if t.InitScript != "" {
		forms++
		task.Commands = []string{t.InitScript}
	}
	if forms > 1 {
		return model.TaskSpec{}, fmt.Errorf("only one of command, commands or init_script can be set: %w", model.ErrNotValid)
	}
	if t.InitScript != "" && task.Class != model.TaskClassInit {
		return model.TaskSpec{}, fmt.Errorf("init_script is only allowed on init tasks: %w", model.ErrNotValid)
	}

	if t.Timeout != "" {
		d, err := time.ParseDuration(t.Timeout)
		if err != nil {
			return model.TaskSpec{}, fmt.Errorf("invalid timeout %q: %w", t.Timeout, model.ErrNotValid)
		}
		task.Timeout = d
	}

	if t.Container != nil {
		autoRemove := true
		if t.Container.AutoRemove != nil {
			autoRemove = *t.Container.AutoRemove
		}
		task.Container = &model.ContainerSpec{
			Image:      t.Container.Image,
			Ports:      t.Container.Ports,
			AutoRemove: autoRemove,
			Env:        t.Container.Env,
		}
	}

	return task, nil
}

func readManifestFile(ctx context.Context, filesystem fs.FS, path string) ([]byte, error) {
	data, err := fs.ReadFile(filesystem, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest %s: %w", path, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return data, nil
}
