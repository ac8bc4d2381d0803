package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"poputka/internal/content"
	"poputka/internal/models"
)

var ErrUserExists = errors.New("user already exists")

type UserStore interface {
	GetUser(id string) (models.User, error)
	UpsertUser(user models.User) error
}

// AddUser registers a marketplace participant so it can chat and be shown
// by name. Existing users are left untouched.
func AddUser(out io.Writer, store UserStore, id, name, role string) error {
	id = strings.TrimSpace(id)
	if err := content.ValidateUserID(id); err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: display name is required", models.ErrValidation)
	}
	r, err := models.ParseRole(role)
	if err != nil {
		return err
	}

	_, err = store.GetUser(id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrUserExists, id)
	case !errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("failed to look up user: %w", err)
	}

	user := models.User{ID: id, DisplayName: name, Role: r}
	if err := store.UpsertUser(user); err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	_, _ = fmt.Fprintf(out, "\nUser Created Successfully!\n")
	_, _ = fmt.Fprintf(out, "ID:    %s\n", user.ID)
	_, _ = fmt.Fprintf(out, "Name:  %s\n", user.DisplayName)
	_, _ = fmt.Fprintf(out, "Role:  %s\n\n", user.Role)
	_, _ = fmt.Fprintf(out, "Start the client with POPUTKA_USER=%s POPUTKA_ROLE=%s.\n", user.ID, user.Role)
	return nil
}
