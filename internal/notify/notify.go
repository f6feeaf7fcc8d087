// Package notify delivers desktop notifications for reminders and hook
// results.
package notify

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is used for notifications that carry only a body.
const DefaultTitle = "Focus Coach"

const execTimeout = 10 * time.Second

// Notification is one message shown to the user.
type Notification struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// New creates a notification with a fresh ID.
func New(title, body string) Notification {
	if title == "" {
		title = DefaultTitle
	}
	return Notification{
		ID:    uuid.New().String(),
		Title: title,
		Body:  body,
	}
}

// Reminder creates a drift reminder with a random motivational phrase.
func Reminder() Notification {
	return New(DefaultTitle, RandomPhrase())
}

// Notifier shows notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	log.Printf("notify: [%s] %s: %s", n.ID, n.Title, n.Body)
	return nil
}

// ExecNotifier runs an external command with the title and body appended as
// the last two arguments, e.g. "notify-send".
type ExecNotifier struct {
	Command string
	Args    []string
}

// NewExecNotifier splits a command line such as "notify-send -a coach".
func NewExecNotifier(commandLine string) (*ExecNotifier, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("failed to create notifier: empty command")
	}
	return &ExecNotifier{Command: fields[0], Args: fields[1:]}, nil
}

func (e *ExecNotifier) Notify(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	args := append(append([]string(nil), e.Args...), n.Title, n.Body)
	out, err := exec.CommandContext(ctx, e.Command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to run %s: %w (%s)", e.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// FromCommand returns an ExecNotifier for commandLine, or a LogNotifier when
// it is empty.
func FromCommand(commandLine string) (Notifier, error) {
	if strings.TrimSpace(commandLine) == "" {
		return LogNotifier{}, nil
	}
	return NewExecNotifier(commandLine)
}
