// Package render turns a project and its ordered tasks into the single
// message shown in a mirror channel.
package render

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StatusStyle is how one task status is displayed.
type StatusStyle struct {
	Emoji string `yaml:"emoji"`
	Label string `yaml:"label"`
}

// Profile holds the labels, icons and time settings used by a Renderer.
type Profile struct {
	HeaderIcon      string `yaml:"header_icon"`
	HeaderLabel     string `yaml:"header_label"`
	DescriptionIcon string `yaml:"description_icon"`
	ProgressLabel   string `yaml:"progress_label"`
	TasksLabel      string `yaml:"tasks_label"`
	EmptyState      string `yaml:"empty_state"`
	StatsLabel      string `yaml:"stats_label"`
	UpdatedLabel    string `yaml:"updated_label"`
	// MoreLabel is a fmt pattern taking the number of hidden tasks.
	MoreLabel  string `yaml:"more_label"`
	Footer     string `yaml:"footer"`
	FooterURL  string `yaml:"footer_url"`
	NumberRows bool   `yaml:"number_rows"`
	Timezone   string `yaml:"timezone"`
	TimeFormat string `yaml:"time_format"`

	Statuses map[string]StatusStyle `yaml:"statuses"`
	// UnknownStatus is used for statuses missing from Statuses.
	UnknownStatus StatusStyle `yaml:"unknown_status"`
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() *Profile {
	return &Profile{
		HeaderIcon:      "🗺",
		HeaderLabel:     "Roadmap",
		DescriptionIcon: "📄",
		ProgressLabel:   "📊 Progress",
		TasksLabel:      "📋 Tasks",
		EmptyState:      "📝 No tasks yet",
		StatsLabel:      "📈 Statistics",
		UpdatedLabel:    "🕐 Updated",
		MoreLabel:       "… and %d more",
		Footer:          "🤖 Roadmap Agent",
		NumberRows:      true,
		Timezone:        "UTC",
		TimeFormat:      "02.01.2006 15:04",
		Statuses: map[string]StatusStyle{
			"completed":   {Emoji: "✅", Label: "Completed"},
			"in_progress": {Emoji: "🔄", Label: "In progress"},
			"planned":     {Emoji: "⏳", Label: "Planned"},
			"cancelled":   {Emoji: "❌", Label: "Cancelled"},
		},
		UnknownStatus: StatusStyle{Emoji: "❓", Label: "Unknown"},
	}
}

// LoadProfile reads a YAML profile, expanding ${VAR} references first.
// Fields the file leaves out keep their defaults. An empty path yields the
// default profile.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	p, err := LoadProfileBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("profile: %s: %w", path, err)
	}
	return p, nil
}

// LoadProfileBytes parses a YAML profile from bytes.
func LoadProfileBytes(data []byte) (*Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.applyDefaults(); err != nil {
		return nil, err
	}
	return p, nil
}

// applyDefaults fills per-status gaps and validates the time settings.
func (p *Profile) applyDefaults() error {
	def := DefaultProfile()
	if p.Statuses == nil {
		p.Statuses = make(map[string]StatusStyle, len(def.Statuses))
	}
	for key, style := range def.Statuses {
		got := p.Statuses[key]
		if got.Emoji == "" {
			got.Emoji = style.Emoji
		}
		if got.Label == "" {
			got.Label = style.Label
		}
		p.Statuses[key] = got
	}
	if p.TimeFormat == "" {
		p.TimeFormat = def.TimeFormat
	}
	if p.Timezone == "" {
		p.Timezone = def.Timezone
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	if !strings.Contains(p.MoreLabel, "%d") {
		return fmt.Errorf("more_label %q must contain %%d", p.MoreLabel)
	}
	return nil
}

// Style returns the display style of a status.
func (p *Profile) Style(status string) StatusStyle {
	if s, ok := p.Statuses[status]; ok {
		return s
	}
	return p.UnknownStatus
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value. Missing
// variables become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
