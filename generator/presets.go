package generator

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFiles embed.FS

// DefaultPreset 是未配置时使用的链路定义。
const DefaultPreset = "pid"

// ChainDefinition 描述一条链路：步骤顺序、模板文本与温度。提示词措辞属于配置，可替换。
type ChainDefinition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	InputKey    string           `yaml:"input_key"`
	Steps       []StepDefinition `yaml:"steps"`
}

// StepDefinition is the YAML form of a StepConfig.
type StepDefinition struct {
	Name           string   `yaml:"name"`
	OutputKey      string   `yaml:"output_key"`
	System         string   `yaml:"system"`
	Temperature    float64  `yaml:"temperature"`
	InputVariables []string `yaml:"input_variables"`
	Template       string   `yaml:"template"`
}

// Presets 返回内置链路名称（已排序）。
func Presets() []string {
	entries, err := presetFiles.ReadDir("presets")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// LoadPreset 读取内置链路定义。
func LoadPreset(name string) (ChainDefinition, error) {
	if name == "" {
		name = DefaultPreset
	}
	data, err := presetFiles.ReadFile("presets/" + name + ".yaml")
	if err != nil {
		return ChainDefinition{}, fmt.Errorf("unknown chain preset %q (available: %v)", name, Presets())
	}
	return parseDefinition(data)
}

// LoadChainFile 读取用户提供的 YAML 链路定义，格式与内置 preset 相同。
func LoadChainFile(p string) (ChainDefinition, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return ChainDefinition{}, err
	}
	def, err := parseDefinition(data)
	if err != nil {
		return ChainDefinition{}, fmt.Errorf("%s: %w", p, err)
	}
	return def, nil
}

func parseDefinition(data []byte) (ChainDefinition, error) {
	var def ChainDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ChainDefinition{}, fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	if len(def.Steps) == 0 {
		return ChainDefinition{}, fmt.Errorf("%w: definition %q has no steps", ErrInvalidChain, def.Name)
	}
	return def, nil
}

// BuildChain 把定义编译成可执行链路；任何模板或依赖错误都在这里暴露。
func BuildChain(llm LLMClient, def ChainDefinition, logger *slog.Logger) (*SequentialChain, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	steps := make([]*Step, 0, len(def.Steps))
	for i, sd := range def.Steps {
		tmpl, err := NewPromptTemplate(sd.Template, sd.InputVariables...)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, sd.Name, err)
		}
		st, err := NewStep(llm, StepConfig{
			Name:        sd.Name,
			OutputKey:   sd.OutputKey,
			System:      sd.System,
			Template:    tmpl,
			Temperature: sd.Temperature,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return NewSequentialChain(def.InputKey, steps, WithLogger(logger))
}
