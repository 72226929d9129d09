package main

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

// confirm asks a yes/no question. --yes answers it without a prompt, and an
// aborted prompt counts as no.
func confirm(ctx context.Context, prompt string) (bool, error) {
	if flagYes {
		return true, nil
	}
	var ok bool
	field := huh.NewConfirm().
		Title(prompt).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

// promptLine asks for a single line of input. secret hides what is typed.
func promptLine(title, placeholder string, secret bool) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&value).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		})
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}
	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(commandContext()); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// promptText opens a multi-line editor seeded with current.
func promptText(title, current string) (string, error) {
	value := current
	text := huh.NewText().
		Title(title).
		Value(&value)
	if err := huh.NewForm(huh.NewGroup(text)).RunWithContext(commandContext()); err != nil {
		return "", err
	}
	return value, nil
}
