package roadmap

import (
	"strings"
	"unicode/utf8"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
)

func checkLength(field, value string, max int) error {
	if n := utf8.RuneCountInString(value); n > max {
		return rerrors.InvalidInput("%s is %d characters, maximum is %d", field, n, max)
	}
	return nil
}

func checkRequired(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", rerrors.InvalidInput("%s is required", field)
	}
	return value, checkLength(field, value, max)
}

func (in *CreateProjectInput) normalize() error {
	name, err := checkRequired("name", in.Name, MaxProjectNameLength)
	if err != nil {
		return err
	}
	in.Name = name
	in.Description = strings.TrimSpace(in.Description)
	if err := checkLength("description", in.Description, MaxDescriptionLength); err != nil {
		return err
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return rerrors.InvalidInput("owner_id is required")
	}
	return nil
}

func (in *UpdateProjectInput) normalize() error {
	if in.Name != nil {
		name, err := checkRequired("name", *in.Name, MaxProjectNameLength)
		if err != nil {
			return err
		}
		in.Name = &name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if err := checkLength("description", desc, MaxDescriptionLength); err != nil {
			return err
		}
		in.Description = &desc
	}
	return nil
}

func (in *CreateTaskInput) normalize() error {
	title, err := checkRequired("title", in.Title, MaxTaskTitleLength)
	if err != nil {
		return err
	}
	in.Title = title
	in.Description = strings.TrimSpace(in.Description)
	if err := checkLength("description", in.Description, MaxDescriptionLength); err != nil {
		return err
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return rerrors.InvalidInput("unknown priority %q", in.Priority)
	}
	if in.EstimatedDays != nil && *in.EstimatedDays < 0 {
		return rerrors.InvalidInput("estimated_days must not be negative")
	}
	return nil
}

func (in *UpdateTaskInput) normalize() error {
	if in.Empty() {
		return rerrors.InvalidInput("nothing to update")
	}
	if in.Title != nil {
		title, err := checkRequired("title", *in.Title, MaxTaskTitleLength)
		if err != nil {
			return err
		}
		in.Title = &title
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if err := checkLength("description", desc, MaxDescriptionLength); err != nil {
			return err
		}
		in.Description = &desc
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return rerrors.InvalidInput("unknown priority %q", *in.Priority)
	}
	if in.EstimatedDays != nil && *in.EstimatedDays < 0 {
		return rerrors.InvalidInput("estimated_days must not be negative")
	}
	return nil
}

func normalizeChannelRef(ref string) (string, error) {
	return checkRequired("channel_ref", ref, MaxChannelRefLength)
}
